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

// Package dedup provides dispatch deduplication using a Redis SET with
// TTL. It is a second line of defence behind the store-level dispatch
// claim: when two scheduler instances poll the same store, only the
// first SETNX for a mail ID wins, so a record cannot be delivered twice.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a dispatched mail ID. Anything
	// still scheduled after that long has been visibly stuck for many
	// ticks already.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dispatch keys in Redis.
	keyPrefix = "maildash:dispatched:"
)

// Filter tracks which mail IDs have already been dispatched.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dispatch filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if the mail ID has NOT been dispatched before.
// If true, the ID is marked as dispatched atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, mailID string) (bool, error) {
	key := fmt.Sprintf("%s%s", keyPrefix, mailID)

	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Forget clears the dispatch mark for a mail ID so a failed delivery can
// be retried by the next tick.
func (f *Filter) Forget(ctx context.Context, mailID string) error {
	return f.rdb.Del(ctx, keyPrefix+mailID).Err()
}
