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

// Package mailstore persists mail records. The Postgres implementation is
// the production store; an in-memory implementation backs the test suites.
//
// All folder transitions are expressed as atomic conditional updates
// (match owner + id + current folder, then set the new folder) so that a
// concurrent delete and a concurrent scheduler dispatch of the same record
// cannot produce a lost update.
package mailstore

import (
	"context"
	"errors"
	"time"

	"github.com/bcem/maildash/internal/models"
)

// ErrNotFound is returned when a record does not exist, is not owned by
// the caller, or is not in the folder a transition requires.
var ErrNotFound = errors.New("mail not found")

// Store is the persistence contract consumed by the mailbox service and
// the scheduler.
type Store interface {
	// Create inserts a new record. The caller supplies the ID; the store
	// stamps CreatedAt/UpdatedAt.
	Create(ctx context.Context, mail *models.Mail) error

	// UpdateDraft rewrites the content of an existing drafts-folder record
	// owned by the caller. Returns ErrNotFound if no such draft exists.
	UpdateDraft(ctx context.Context, mail *models.Mail) error

	// Get returns a record by id, scoped to its owner.
	Get(ctx context.Context, owner, id string) (*models.Mail, error)

	// ListFolder returns the owner's records in a folder, newest first.
	ListFolder(ctx context.Context, owner string, folder models.Folder) ([]models.Mail, error)

	// Delete hard-deletes a single owned record (draft cleanup after send).
	Delete(ctx context.Context, owner, id string) error

	// MoveToTrash moves an owned record to trash. Idempotent when the
	// record is already trashed; ErrNotFound when it does not exist.
	MoveToTrash(ctx context.Context, owner, id string) error

	// RestoreFromTrash moves a trashed record to the target folder.
	// ErrNotFound unless the record is currently in trash for that owner.
	RestoreFromTrash(ctx context.Context, owner, id string, target models.Folder) error

	// EmptyTrash hard-deletes all of the owner's trash records and
	// returns how many were removed.
	EmptyTrash(ctx context.Context, owner string) (int, error)

	// ListDue returns scheduled records whose scheduledAt has passed.
	// A non-zero lookback additionally bounds the query below
	// (scheduledAt >= now-lookback); zero disables the lower bound.
	ListDue(ctx context.Context, now time.Time, lookback time.Duration) ([]models.Mail, error)

	// ClaimForDispatch atomically claims a due record for delivery.
	// The claim succeeds only while the record is still scheduled and
	// either unclaimed or holding a claim older than staleAfter. Returns
	// false when another worker holds the record.
	ClaimForDispatch(ctx context.Context, id string, now time.Time, staleAfter time.Duration) (bool, error)

	// ReleaseClaim clears a dispatch claim after a failed delivery so the
	// next tick retries the record.
	ReleaseClaim(ctx context.Context, id string) error

	// MarkSent transitions a scheduled record to sent, clearing the
	// schedule fields and any claim. ErrNotFound if the record is no
	// longer scheduled.
	MarkSent(ctx context.Context, id string) error
}
