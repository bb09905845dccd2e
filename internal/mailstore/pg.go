// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mailstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/maildash/internal/models"
)

const mailColumns = `id, owner, from_addr, to_addr, cc_addr, bcc_addr,
       subject, body, html_body, attachments, folder,
       is_scheduled, scheduled_at, created_at, updated_at`

// PGStore is the Postgres-backed mail store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a mail store backed by the given Postgres pool.
// It ensures the mails table exists on creation.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	s := &PGStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure mail schema: %w", err)
	}
	slog.Info("mail store initialised")
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mails (
			id            TEXT PRIMARY KEY,
			owner         TEXT NOT NULL,
			from_addr     TEXT NOT NULL DEFAULT '',
			to_addr       TEXT NOT NULL DEFAULT '',
			cc_addr       TEXT NOT NULL DEFAULT '',
			bcc_addr      TEXT NOT NULL DEFAULT '',
			subject       TEXT NOT NULL DEFAULT '',
			body          TEXT NOT NULL DEFAULT '',
			html_body     TEXT NOT NULL DEFAULT '',
			attachments   JSONB NOT NULL DEFAULT '[]',
			folder        TEXT NOT NULL,
			is_scheduled  BOOLEAN NOT NULL DEFAULT FALSE,
			scheduled_at  TIMESTAMPTZ,
			claimed_at    TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_mails_owner_folder ON mails(owner, folder);
		CREATE INDEX IF NOT EXISTS idx_mails_due ON mails(scheduled_at) WHERE is_scheduled;
	`)
	return err
}

// Create inserts a new mail record.
func (s *PGStore) Create(ctx context.Context, m *models.Mail) error {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO mails
			(id, owner, from_addr, to_addr, cc_addr, bcc_addr,
			 subject, body, html_body, attachments, folder,
			 is_scheduled, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, m.ID, m.Owner, m.From, m.To, m.Cc, m.Bcc,
		m.Subject, m.Body, m.HTMLBody, attachments, m.Folder,
		m.IsScheduled, m.ScheduledAt)
	return row.Scan(&m.CreatedAt, &m.UpdatedAt)
}

// UpdateDraft rewrites an existing draft in place.
func (s *PGStore) UpdateDraft(ctx context.Context, m *models.Mail) error {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE mails
		SET from_addr = $1, to_addr = $2, cc_addr = $3, bcc_addr = $4,
		    subject = $5, body = $6, html_body = $7, attachments = $8,
		    scheduled_at = $9, updated_at = NOW()
		WHERE id = $10 AND owner = $11 AND folder = 'drafts'
	`, m.From, m.To, m.Cc, m.Bcc,
		m.Subject, m.Body, m.HTMLBody, attachments,
		m.ScheduledAt, m.ID, m.Owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a single owned record.
func (s *PGStore) Get(ctx context.Context, owner, id string) (*models.Mail, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+mailColumns+`
		FROM mails
		WHERE id = $1 AND owner = $2
	`, id, owner)
	return scanMail(row)
}

// ListFolder returns the owner's records in a folder, newest first.
func (s *PGStore) ListFolder(ctx context.Context, owner string, folder models.Folder) ([]models.Mail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+mailColumns+`
		FROM mails
		WHERE owner = $1 AND folder = $2
		ORDER BY created_at DESC
	`, owner, folder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMails(rows)
}

// Delete hard-deletes a single owned record.
func (s *PGStore) Delete(ctx context.Context, owner, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mails WHERE id = $1 AND owner = $2
	`, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveToTrash sends an owned record to trash. The update also clears the
// schedule fields so a trashed scheduled record can never be dispatched.
func (s *PGStore) MoveToTrash(ctx context.Context, owner, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mails
		SET folder = 'trash', is_scheduled = FALSE, scheduled_at = NULL,
		    claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND owner = $2
	`, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RestoreFromTrash moves a trashed record to the target folder.
func (s *PGStore) RestoreFromTrash(ctx context.Context, owner, id string, target models.Folder) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mails
		SET folder = $1, updated_at = NOW()
		WHERE id = $2 AND owner = $3 AND folder = 'trash'
	`, target, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EmptyTrash hard-deletes all of the owner's trash records.
func (s *PGStore) EmptyTrash(ctx context.Context, owner string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mails WHERE owner = $1 AND folder = 'trash'
	`, owner)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListDue returns scheduled records whose time has come.
func (s *PGStore) ListDue(ctx context.Context, now time.Time, lookback time.Duration) ([]models.Mail, error) {
	query := `
		SELECT ` + mailColumns + `
		FROM mails
		WHERE is_scheduled AND scheduled_at <= $1`
	args := []any{now}
	if lookback > 0 {
		query += ` AND scheduled_at >= $2`
		args = append(args, now.Add(-lookback))
	}
	query += ` ORDER BY scheduled_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMails(rows)
}

// ClaimForDispatch atomically claims a record for delivery. Only one
// worker can hold a fresh claim at a time.
func (s *PGStore) ClaimForDispatch(ctx context.Context, id string, now time.Time, staleAfter time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mails
		SET claimed_at = $1
		WHERE id = $2 AND folder = 'scheduled' AND is_scheduled
		  AND (claimed_at IS NULL OR claimed_at < $3)
	`, now, id, now.Add(-staleAfter))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseClaim clears the dispatch claim after a failed delivery.
func (s *PGStore) ReleaseClaim(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE mails SET claimed_at = NULL WHERE id = $1
	`, id)
	return err
}

// MarkSent transitions a scheduled record to sent.
func (s *PGStore) MarkSent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mails
		SET folder = 'sent', is_scheduled = FALSE, scheduled_at = NULL,
		    claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND folder = 'scheduled'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanMail scans a single row into a Mail.
func scanMail(row pgx.Row) (*models.Mail, error) {
	var m models.Mail
	err := row.Scan(
		&m.ID, &m.Owner, &m.From, &m.To, &m.Cc, &m.Bcc,
		&m.Subject, &m.Body, &m.HTMLBody, &m.Attachments, &m.Folder,
		&m.IsScheduled, &m.ScheduledAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// collectMails scans multiple rows into a slice of Mails.
func collectMails(rows pgx.Rows) ([]models.Mail, error) {
	var mails []models.Mail
	for rows.Next() {
		var m models.Mail
		if err := rows.Scan(
			&m.ID, &m.Owner, &m.From, &m.To, &m.Cc, &m.Bcc,
			&m.Subject, &m.Body, &m.HTMLBody, &m.Attachments, &m.Folder,
			&m.IsScheduled, &m.ScheduledAt, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		mails = append(mails, m)
	}
	return mails, rows.Err()
}
