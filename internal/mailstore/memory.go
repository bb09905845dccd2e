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
	"sort"
	"sync"
	"time"

	"github.com/bcem/maildash/internal/models"
)

// MemoryStore implements Store with an in-process map. It backs the test
// suites and mirrors the conditional-update semantics of the Postgres
// store under a single mutex.
type MemoryStore struct {
	mu     sync.Mutex
	mails  map[string]*models.Mail
	claims map[string]time.Time
}

// NewMemoryStore creates an empty in-memory mail store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mails:  make(map[string]*models.Mail),
		claims: make(map[string]time.Time),
	}
}

func copyMail(m *models.Mail) *models.Mail {
	c := *m
	if m.Attachments != nil {
		c.Attachments = make([]models.Attachment, len(m.Attachments))
		copy(c.Attachments, m.Attachments)
	}
	if m.ScheduledAt != nil {
		at := *m.ScheduledAt
		c.ScheduledAt = &at
	}
	return &c
}

// Create inserts a new record, stamping timestamps.
func (s *MemoryStore) Create(_ context.Context, m *models.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.mails[m.ID] = copyMail(m)
	return nil
}

// UpdateDraft rewrites an existing draft in place.
func (s *MemoryStore) UpdateDraft(_ context.Context, m *models.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.mails[m.ID]
	if !ok || cur.Owner != m.Owner || cur.Folder != models.FolderDrafts {
		return ErrNotFound
	}
	m.CreatedAt = cur.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	m.Folder = models.FolderDrafts
	s.mails[m.ID] = copyMail(m)
	return nil
}

// Get retrieves a single owned record.
func (s *MemoryStore) Get(_ context.Context, owner, id string) (*models.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mails[id]
	if !ok || m.Owner != owner {
		return nil, ErrNotFound
	}
	return copyMail(m), nil
}

// ListFolder returns the owner's records in a folder, newest first.
func (s *MemoryStore) ListFolder(_ context.Context, owner string, folder models.Folder) ([]models.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Mail
	for _, m := range s.mails {
		if m.Owner == owner && m.Folder == folder {
			out = append(out, *copyMail(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete hard-deletes a single owned record.
func (s *MemoryStore) Delete(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mails[id]
	if !ok || m.Owner != owner {
		return ErrNotFound
	}
	delete(s.mails, id)
	delete(s.claims, id)
	return nil
}

// MoveToTrash sends an owned record to trash.
func (s *MemoryStore) MoveToTrash(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mails[id]
	if !ok || m.Owner != owner {
		return ErrNotFound
	}
	m.Folder = models.FolderTrash
	m.IsScheduled = false
	m.ScheduledAt = nil
	m.UpdatedAt = time.Now().UTC()
	delete(s.claims, id)
	return nil
}

// RestoreFromTrash moves a trashed record to the target folder.
func (s *MemoryStore) RestoreFromTrash(_ context.Context, owner, id string, target models.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mails[id]
	if !ok || m.Owner != owner || m.Folder != models.FolderTrash {
		return ErrNotFound
	}
	m.Folder = target
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// EmptyTrash hard-deletes all of the owner's trash records.
func (s *MemoryStore) EmptyTrash(_ context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, m := range s.mails {
		if m.Owner == owner && m.Folder == models.FolderTrash {
			delete(s.mails, id)
			delete(s.claims, id)
			count++
		}
	}
	return count, nil
}

// ListDue returns scheduled records whose time has come.
func (s *MemoryStore) ListDue(_ context.Context, now time.Time, lookback time.Duration) ([]models.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Mail
	for _, m := range s.mails {
		if !m.IsScheduled || m.ScheduledAt == nil || m.ScheduledAt.After(now) {
			continue
		}
		if lookback > 0 && m.ScheduledAt.Before(now.Add(-lookback)) {
			continue
		}
		out = append(out, *copyMail(m))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(*out[j].ScheduledAt)
	})
	return out, nil
}

// ClaimForDispatch atomically claims a record for delivery.
func (s *MemoryStore) ClaimForDispatch(_ context.Context, id string, now time.Time, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mails[id]
	if !ok || m.Folder != models.FolderScheduled || !m.IsScheduled {
		return false, nil
	}
	if at, held := s.claims[id]; held && !at.Before(now.Add(-staleAfter)) {
		return false, nil
	}
	s.claims[id] = now
	return true, nil
}

// ReleaseClaim clears the dispatch claim after a failed delivery.
func (s *MemoryStore) ReleaseClaim(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, id)
	return nil
}

// MarkSent transitions a scheduled record to sent.
func (s *MemoryStore) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mails[id]
	if !ok || m.Folder != models.FolderScheduled {
		return ErrNotFound
	}
	m.Folder = models.FolderSent
	m.IsScheduled = false
	m.ScheduledAt = nil
	m.UpdatedAt = time.Now().UTC()
	delete(s.claims, id)
	return nil
}
