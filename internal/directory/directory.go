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

// Package directory provides the Postgres-backed account directory the
// fan-out resolver consults to decide which addresses are local.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/maildash/internal/fanout"
)

// PGDirectory looks up local accounts in Postgres.
type PGDirectory struct {
	pool *pgxpool.Pool
}

// NewPGDirectory creates an account directory backed by the given pool.
// It ensures the accounts table exists on creation.
func NewPGDirectory(ctx context.Context, pool *pgxpool.Pool) (*PGDirectory, error) {
	d := &PGDirectory{pool: pool}
	if err := d.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure accounts schema: %w", err)
	}
	slog.Info("account directory initialised")
	return d, nil
}

func (d *PGDirectory) ensureSchema(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id           TEXT PRIMARY KEY,
			address      TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_address ON accounts(LOWER(address));
	`)
	return err
}

// Lookup resolves an address to a local account. Returns (nil, nil) when
// the address is not managed here.
func (d *PGDirectory) Lookup(ctx context.Context, address string) (*fanout.Account, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, address, display_name
		FROM accounts
		WHERE LOWER(address) = LOWER($1)
	`, strings.TrimSpace(address))

	var a fanout.Account
	err := row.Scan(&a.ID, &a.Address, &a.Name)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// MemoryDirectory is an in-process directory for tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]fanout.Account // keyed by lowercased address
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{accounts: make(map[string]fanout.Account)}
}

// Add registers a local account.
func (d *MemoryDirectory) Add(a fanout.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[strings.ToLower(strings.TrimSpace(a.Address))] = a
}

// Lookup resolves an address to a local account.
func (d *MemoryDirectory) Lookup(_ context.Context, address string) (*fanout.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[strings.ToLower(strings.TrimSpace(address))]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
