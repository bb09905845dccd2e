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

// Package fanout materialises per-recipient mailbox copies after a
// successful delivery. The system only mirrors mail for accounts it
// manages; external recipients already got the message via the gateway.
package fanout

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bcem/maildash/internal/mailstore"
	"github.com/bcem/maildash/internal/models"
)

// Account is a local dashboard account a copy can be delivered to.
type Account struct {
	ID      string
	Address string
	Name    string
}

// Directory resolves an email address to a local account. A nil account
// with a nil error means the address is not managed here.
type Directory interface {
	Lookup(ctx context.Context, address string) (*Account, error)
}

// ParseAddressList flattens the primary to address plus comma-separated
// cc/bcc strings into one ordered, de-duplicated list. First occurrence
// wins; comparison is case-insensitive on the trimmed form.
func ParseAddressList(to, cc, bcc string) []string {
	var out []string
	seen := make(map[string]bool)

	add := func(raw string) {
		addr := strings.TrimSpace(raw)
		if addr == "" {
			return
		}
		key := strings.ToLower(addr)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, addr)
	}

	add(to)
	for _, part := range strings.Split(cc, ",") {
		add(part)
	}
	for _, part := range strings.Split(bcc, ",") {
		add(part)
	}
	return out
}

// Resolver creates inbox copies for local recipients.
type Resolver struct {
	dir   Directory
	store mailstore.Store
}

// NewResolver creates a fan-out resolver.
func NewResolver(dir Directory, store mailstore.Store) *Resolver {
	return &Resolver{dir: dir, store: store}
}

// Materialize creates one inbox copy per resolved local recipient of the
// delivered mail. Each copy is a full content duplicate.
//
// Blind-carbon-copy privacy: the cc field is carried only on the primary
// recipient's copy, and no copy ever carries a bcc value — a recipient
// copy must not reveal bcc membership. A store failure on one copy is
// logged and does not block the others. Returns the number of copies
// created.
func (r *Resolver) Materialize(ctx context.Context, src *models.Mail) int {
	created := 0
	for _, addr := range ParseAddressList(src.To, src.Cc, src.Bcc) {
		account, err := r.dir.Lookup(ctx, addr)
		if err != nil {
			slog.Error("recipient lookup failed", "address", addr, "error", err)
			continue
		}
		if account == nil {
			continue // external recipient, nothing to mirror
		}

		dup := &models.Mail{
			ID:       uuid.New().String(),
			Owner:    account.ID,
			From:     src.From,
			To:       src.To,
			Subject:  src.Subject,
			Body:     src.Body,
			HTMLBody: src.HTMLBody,
			Folder:   models.FolderInbox,
		}
		if strings.EqualFold(addr, strings.TrimSpace(src.To)) {
			dup.Cc = src.Cc
		}
		if len(src.Attachments) > 0 {
			dup.Attachments = make([]models.Attachment, len(src.Attachments))
			copy(dup.Attachments, src.Attachments)
		}

		if err := r.store.Create(ctx, dup); err != nil {
			slog.Error("failed to create inbox copy",
				"address", addr,
				"owner", account.ID,
				"error", err,
			)
			continue
		}
		created++
	}
	return created
}
