// Copyright (c) 2026 John Earle
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://github.com/yourusername/bcem/blob/main/LICENSE
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bcem/maildash/internal/delivery"
	"github.com/bcem/maildash/internal/fanout"
	"github.com/bcem/maildash/internal/mailstore"
	"github.com/bcem/maildash/internal/models"
	"github.com/bcem/maildash/internal/queue"
)

// --- Mocks ---

type mockGateway struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error // keyed by subject, so tests can fail one record
}

func (g *mockGateway) Deliver(_ context.Context, req delivery.Request) (*delivery.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if err, ok := g.fail[req.Subject]; ok {
		return nil, err
	}
	return &delivery.Receipt{MessageID: "msg-" + req.Subject, Accepted: req.To}, nil
}

func (g *mockGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type mockGuard struct {
	mu     sync.Mutex
	seen   map[string]bool
	forgot []string
}

func newMockGuard() *mockGuard {
	return &mockGuard{seen: make(map[string]bool)}
}

func (g *mockGuard) IsNew(_ context.Context, mailID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[mailID] {
		return false, nil
	}
	g.seen[mailID] = true
	return true, nil
}

func (g *mockGuard) Forget(_ context.Context, mailID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, mailID)
	g.forgot = append(g.forgot, mailID)
	return nil
}

type mockEvents struct {
	mu     sync.Mutex
	events []queue.DeliveredEvent
}

func (e *mockEvents) PublishDelivered(_ context.Context, event queue.DeliveredEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

type emptyDirectory struct{}

func (emptyDirectory) Lookup(context.Context, string) (*fanout.Account, error) { return nil, nil }

func newTestPoller(store mailstore.Store, gateway *mockGateway, guard DispatchGuard, events EventPublisher, now time.Time) *Poller {
	return NewPoller(Config{
		Store:   store,
		Gateway: gateway,
		Fanout:  fanout.NewResolver(emptyDirectory{}, store),
		Guard:   guard,
		Events:  events,
		Now:     func() time.Time { return now },
	})
}

func dueMail(id, owner, subject string, at time.Time) *models.Mail {
	return &models.Mail{
		ID:          id,
		Owner:       owner,
		From:        owner + "@x.com",
		To:          "someone@elsewhere.com",
		Subject:     subject,
		Folder:      models.FolderScheduled,
		IsScheduled: true,
		ScheduledAt: &at,
	}
}

func TestTick_DispatchesDueMail(t *testing.T) {
	ctx := context.Background()
	store := mailstore.NewMemoryStore()
	gateway := &mockGateway{}
	events := &mockEvents{}
	now := time.Now()

	for _, id := range []string{"m1", "m2"} {
		if err := store.Create(ctx, dueMail(id, "alice", id, now.Add(-time.Minute))); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := store.Create(ctx, dueMail("future", "alice", "future", now.Add(time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}

	p := newTestPoller(store, gateway, newMockGuard(), events, now)
	summary := p.Tick(ctx)

	if summary.Processed != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 2 processed, 0 failed", summary)
	}
	if gateway.callCount() != 2 {
		t.Errorf("gateway calls = %d, want 2", gateway.callCount())
	}

	for _, id := range []string{"m1", "m2"} {
		m, err := store.Get(ctx, "alice", id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if m.Folder != models.FolderSent || m.IsScheduled {
			t.Errorf("%s after tick: folder=%s isScheduled=%v", id, m.Folder, m.IsScheduled)
		}
	}
	if m, _ := store.Get(ctx, "alice", "future"); m.Folder != models.FolderScheduled {
		t.Errorf("future record was dispatched early")
	}
	if len(events.events) != 2 {
		t.Errorf("delivered events = %d, want 2", len(events.events))
	}
}

// TestTick_FailureIsolatedAndRetried: a record whose delivery fails is
// reported, left scheduled with its claim released, and goes out on the
// next tick once the provider recovers. The healthy record in the same
// batch is unaffected.
func TestTick_FailureIsolatedAndRetried(t *testing.T) {
	ctx := context.Background()
	store := mailstore.NewMemoryStore()
	guard := newMockGuard()
	now := time.Now()
	gateway := &mockGateway{fail: map[string]error{
		"bad": &delivery.TransientError{Err: errors.New("provider down")},
	}}

	if err := store.Create(ctx, dueMail("m-bad", "alice", "bad", now.Add(-time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, dueMail("m-good", "alice", "good", now.Add(-time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}

	p := newTestPoller(store, gateway, guard, nil, now)
	summary := p.Tick(ctx)

	if summary.Processed != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 processed, 1 failed", summary)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].MailID != "m-bad" {
		t.Fatalf("errors = %+v, want one entry for m-bad", summary.Errors)
	}

	m, _ := store.Get(ctx, "alice", "m-bad")
	if m.Folder != models.FolderScheduled {
		t.Fatalf("failed record folder = %s, want scheduled", m.Folder)
	}
	if len(guard.forgot) != 1 || guard.forgot[0] != "m-bad" {
		t.Errorf("guard forgot = %v, want [m-bad]", guard.forgot)
	}

	// Provider recovers; the next tick picks the record back up.
	gateway.mu.Lock()
	gateway.fail = nil
	gateway.mu.Unlock()

	summary = p.Tick(ctx)
	if summary.Processed != 1 || summary.Failed != 0 {
		t.Fatalf("second tick summary = %+v, want 1 processed", summary)
	}
	m, _ = store.Get(ctx, "alice", "m-bad")
	if m.Folder != models.FolderSent {
		t.Errorf("retried record folder = %s, want sent", m.Folder)
	}
}

// TestTick_GuardSuppressesRedelivery: a record the guard already saw is
// marked sent without touching the gateway, closing the window where one
// instance delivered but crashed before MarkSent.
func TestTick_GuardSuppressesRedelivery(t *testing.T) {
	ctx := context.Background()
	store := mailstore.NewMemoryStore()
	guard := newMockGuard()
	gateway := &mockGateway{}
	now := time.Now()

	if err := store.Create(ctx, dueMail("m1", "alice", "s", now.Add(-time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := guard.IsNew(ctx, "m1"); err != nil {
		t.Fatalf("prime guard: %v", err)
	}

	p := newTestPoller(store, gateway, guard, nil, now)
	summary := p.Tick(ctx)

	if summary.Failed != 0 {
		t.Fatalf("summary = %+v, want no failures", summary)
	}
	if gateway.callCount() != 0 {
		t.Errorf("gateway called %d times for an already-dispatched record", gateway.callCount())
	}
	m, _ := store.Get(ctx, "alice", "m1")
	if m.Folder != models.FolderSent {
		t.Errorf("folder = %s, want sent", m.Folder)
	}
}

func TestTick_NothingDue(t *testing.T) {
	store := mailstore.NewMemoryStore()
	gateway := &mockGateway{}

	p := newTestPoller(store, gateway, nil, nil, time.Now())
	summary := p.Tick(context.Background())

	if summary.Processed != 0 || summary.Failed != 0 || len(summary.Errors) != 0 {
		t.Errorf("summary = %+v, want empty", summary)
	}
	if gateway.callCount() != 0 {
		t.Errorf("gateway called with nothing due")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := mailstore.NewMemoryStore()
	p := NewPoller(Config{
		Store:    store,
		Gateway:  &mockGateway{},
		Fanout:   fanout.NewResolver(emptyDirectory{}, store),
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}
