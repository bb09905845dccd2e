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

// Package mailbox implements the folder state machine that governs a
// mail record's life: draft, scheduled, sent, inbox copy, trash. All
// interactive user actions enter through this service; the scheduler
// replays the same delivery + fan-out sequence for due records.
package mailbox

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/maildash/internal/delivery"
	"github.com/bcem/maildash/internal/fanout"
	"github.com/bcem/maildash/internal/mailstore"
	"github.com/bcem/maildash/internal/models"
)

// ValidationError reports a request that cannot be acted on.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// Payload carries the composable fields of a send or save-draft request.
type Payload struct {
	To          string              `json:"to"`
	Cc          string              `json:"cc"`
	Bcc         string              `json:"bcc"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	HTMLBody    string              `json:"htmlBody"`
	Attachments []models.Attachment `json:"attachments"`
	ScheduledAt *time.Time          `json:"scheduledAt,omitempty"`
	DraftID     string              `json:"draftId,omitempty"`
}

// Service drives folder transitions against the mail store, calling the
// delivery gateway and fan-out resolver for sends.
type Service struct {
	store   mailstore.Store
	gateway delivery.Gateway
	fanout  *fanout.Resolver

	// now is injectable so the scheduledAt boundary is testable.
	now func() time.Time
}

// NewService creates the mailbox service.
func NewService(store mailstore.Store, gateway delivery.Gateway, resolver *fanout.Resolver) *Service {
	return &Service{
		store:   store,
		gateway: gateway,
		fanout:  resolver,
		now:     time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SaveDraft upserts a drafts-folder record. When id is empty a new draft
// is created; otherwise the owner's existing draft is rewritten and a
// missing id fails with ErrNotFound. A future scheduledAt is recorded as
// schedule intent only — the draft stays in drafts until Send promotes it.
func (s *Service) SaveDraft(ctx context.Context, owner, from string, p Payload, id string) (*models.Mail, error) {
	m := &models.Mail{
		ID:          id,
		Owner:       owner,
		From:        from,
		To:          p.To,
		Cc:          p.Cc,
		Bcc:         p.Bcc,
		Subject:     p.Subject,
		Body:        p.Body,
		HTMLBody:    p.HTMLBody,
		Attachments: p.Attachments,
		Folder:      models.FolderDrafts,
		ScheduledAt: p.ScheduledAt,
	}

	if id == "" {
		m.ID = uuid.New().String()
		if err := s.store.Create(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	}

	if err := s.store.UpdateDraft(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Send delivers or schedules a composed message.
//
// scheduledAt strictly in the future → the record is stored as scheduled
// and no gateway call happens. scheduledAt absent, past, or exactly equal
// to now → the message is delivered immediately; the sent copy is written
// only after the gateway succeeds, then fan-out runs. Either successful
// outcome deletes the originating draft when draftId is set — never on a
// failed delivery, so a failure cannot silently lose the draft.
//
// The == now boundary resolves to immediate send on purpose (strict
// greater-than): a race at the exact second must send, not schedule.
func (s *Service) Send(ctx context.Context, owner, from string, p Payload) (*models.Mail, error) {
	if strings.TrimSpace(p.To) == "" {
		return nil, &ValidationError{Reason: "recipient is required"}
	}

	now := s.now()
	m := &models.Mail{
		ID:          uuid.New().String(),
		Owner:       owner,
		From:        from,
		To:          p.To,
		Cc:          p.Cc,
		Bcc:         p.Bcc,
		Subject:     p.Subject,
		Body:        p.Body,
		HTMLBody:    p.HTMLBody,
		Attachments: p.Attachments,
	}

	if p.ScheduledAt != nil && p.ScheduledAt.After(now) {
		at := p.ScheduledAt.UTC()
		m.Folder = models.FolderScheduled
		m.IsScheduled = true
		m.ScheduledAt = &at
		if err := s.store.Create(ctx, m); err != nil {
			return nil, err
		}
		slog.Info("mail scheduled",
			"mail_id", m.ID,
			"owner", owner,
			"scheduled_at", at.Format(time.RFC3339),
		)
		s.cleanupDraft(ctx, owner, p.DraftID)
		return m, nil
	}

	receipt, err := s.gateway.Deliver(ctx, BuildRequest(m))
	if err != nil {
		return nil, err
	}

	m.Folder = models.FolderSent
	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}

	copies := s.fanout.Materialize(ctx, m)
	slog.Info("mail sent",
		"mail_id", m.ID,
		"owner", owner,
		"message_id", receipt.MessageID,
		"inbox_copies", copies,
	)

	s.cleanupDraft(ctx, owner, p.DraftID)
	return m, nil
}

// cleanupDraft removes the originating draft after a successful send or
// schedule. A cleanup failure is logged, not surfaced — the send outcome
// already stands.
func (s *Service) cleanupDraft(ctx context.Context, owner, draftID string) {
	if draftID == "" {
		return
	}
	if err := s.store.Delete(ctx, owner, draftID); err != nil {
		slog.Warn("failed to delete originating draft",
			"draft_id", draftID,
			"owner", owner,
			"error", err,
		)
	}
}

// BuildRequest maps a mail record onto the provider-agnostic delivery
// request. The gateway receives to/cc/bcc exactly as composed; fan-out
// applies its own privacy rules separately. The composer's address rides
// as Reply-To only.
func BuildRequest(m *models.Mail) delivery.Request {
	return delivery.Request{
		To:          []string{strings.TrimSpace(m.To)},
		Cc:          splitList(m.Cc),
		Bcc:         splitList(m.Bcc),
		Subject:     m.Subject,
		Text:        m.Body,
		HTML:        m.HTMLBody,
		ReplyTo:     m.From,
		Attachments: m.Attachments,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Delete moves an owned record to trash, whatever folder it is in.
// Deleting an already-trashed record succeeds and is a no-op.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	return s.store.MoveToTrash(ctx, owner, id)
}

// Restore moves a trashed record to the target folder (default inbox).
// The record keeps no memory of its pre-trash folder; the caller chooses
// the destination. Fails with ErrNotFound unless the record is currently
// in trash for that owner.
func (s *Service) Restore(ctx context.Context, owner, id string, target models.Folder) error {
	if target == "" {
		target = models.FolderInbox
	}
	if !models.CanTransition(models.FolderTrash, target) {
		return &ValidationError{Reason: "cannot restore into folder " + string(target)}
	}
	return s.store.RestoreFromTrash(ctx, owner, id, target)
}

// EmptyTrash hard-deletes all of the owner's trash records. Not reversible.
func (s *Service) EmptyTrash(ctx context.Context, owner string) (int, error) {
	count, err := s.store.EmptyTrash(ctx, owner)
	if err != nil {
		return 0, err
	}
	slog.Info("trash emptied", "owner", owner, "count", count)
	return count, nil
}

// List returns the owner's records in a folder.
func (s *Service) List(ctx context.Context, owner string, folder models.Folder) ([]models.Mail, error) {
	return s.store.ListFolder(ctx, owner, folder)
}

// Get returns a single owned record.
func (s *Service) Get(ctx context.Context, owner, id string) (*models.Mail, error) {
	return s.store.Get(ctx, owner, id)
}
