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

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bcem/maildash/internal/delivery"
	"github.com/bcem/maildash/internal/fanout"
	"github.com/bcem/maildash/internal/mailbox"
	"github.com/bcem/maildash/internal/mailstore"
	"github.com/bcem/maildash/internal/models"
	"github.com/bcem/maildash/internal/scheduler"
)

// --- Mocks ---

type mockGateway struct {
	err   error
	calls int
}

func (g *mockGateway) Deliver(_ context.Context, req delivery.Request) (*delivery.Receipt, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &delivery.Receipt{MessageID: "msg-1", Accepted: req.To}, nil
}

type emptyDirectory struct{}

func (emptyDirectory) Lookup(context.Context, string) (*fanout.Account, error) { return nil, nil }

type mockDrafter struct {
	text string
	err  error
}

func (d *mockDrafter) Draft(context.Context, string) (string, error) { return d.text, d.err }

type fixture struct {
	store   *mailstore.MemoryStore
	gateway *mockGateway
	mux     *http.ServeMux
}

func newFixture(t *testing.T, drafter *mockDrafter, dispatchSecret string) *fixture {
	t.Helper()
	store := mailstore.NewMemoryStore()
	gateway := &mockGateway{}
	resolver := fanout.NewResolver(emptyDirectory{}, store)
	svc := mailbox.NewService(store, gateway, resolver)
	poller := scheduler.NewPoller(scheduler.Config{
		Store:   store,
		Gateway: gateway,
		Fanout:  resolver,
	})

	mux := http.NewServeMux()
	var h *Handler
	if drafter == nil {
		h = NewHandler(svc, poller, nil, dispatchSecret)
	} else {
		h = NewHandler(svc, poller, drafter, dispatchSecret)
	}
	h.Register(mux)
	return &fixture{store: store, gateway: gateway, mux: mux}
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func asAlice() map[string]string {
	return map[string]string{"X-User-ID": "alice", "X-User-Email": "alice@x.com"}
}

func TestSendEndpoint(t *testing.T) {
	f := newFixture(t, nil, "")

	rec := f.do(http.MethodPost, "/mail/send", `{"to":"bob@elsewhere.com","subject":"hi"}`, asAlice())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var m models.Mail
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Folder != models.FolderSent || m.Owner != "alice" || m.From != "alice@x.com" {
		t.Errorf("mail = %+v", m)
	}
	if f.gateway.calls != 1 {
		t.Errorf("gateway calls = %d, want 1", f.gateway.calls)
	}
}

func TestSendEndpoint_ScheduledResponse(t *testing.T) {
	f := newFixture(t, nil, "")
	at := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	rec := f.do(http.MethodPost, "/mail/send",
		`{"to":"bob@elsewhere.com","scheduledAt":"`+at+`"}`, asAlice())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var m models.Mail
	json.Unmarshal(rec.Body.Bytes(), &m)
	if m.Folder != models.FolderScheduled || !m.IsScheduled {
		t.Errorf("mail = %+v, want scheduled", m)
	}
	if f.gateway.calls != 0 {
		t.Errorf("gateway called for a scheduled send")
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", nil, http.StatusBadRequest}, // empty To, no gateway error needed
		{"provider rejection", &delivery.DeliveryError{Status: 422, Detail: "bad address"}, http.StatusBadGateway},
		{"transient failure", &delivery.TransientError{Err: context.DeadlineExceeded}, http.StatusBadGateway},
		{"unconfigured provider", &delivery.ConfigError{Reason: "no provider"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, "")
			f.gateway.err = tt.err

			body := `{"to":"bob@elsewhere.com"}`
			if tt.err == nil {
				body = `{"subject":"no recipient"}`
			}
			rec := f.do(http.MethodPost, "/mail/send", body, asAlice())
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestMissingIdentityRejected(t *testing.T) {
	f := newFixture(t, nil, "")

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/mail?folder=inbox"},
		{http.MethodGet, "/mail/some-id"},
		{http.MethodPost, "/mail/send"},
		{http.MethodPost, "/mail/draft"},
		{http.MethodPatch, "/mail/delete/some-id"},
		{http.MethodPatch, "/mail/restore/some-id"},
		{http.MethodDelete, "/mail/trash"},
	} {
		rec := f.do(route.method, route.path, `{}`, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without identity: status = %d, want 401", route.method, route.path, rec.Code)
		}
	}
}

func TestListFolder(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()
	f.store.Create(ctx, &models.Mail{ID: "m1", Owner: "alice", Folder: models.FolderInbox})
	f.store.Create(ctx, &models.Mail{ID: "m2", Owner: "bob", Folder: models.FolderInbox})

	rec := f.do(http.MethodGet, "/mail?folder=inbox", "", asAlice())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var mails []models.Mail
	json.Unmarshal(rec.Body.Bytes(), &mails)
	if len(mails) != 1 || mails[0].ID != "m1" {
		t.Errorf("mails = %+v, want only alice's m1", mails)
	}

	rec = f.do(http.MethodGet, "/mail?folder=spam", "", asAlice())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown folder: status = %d, want 400", rec.Code)
	}

	// An empty folder returns [] rather than null.
	rec = f.do(http.MethodGet, "/mail?folder=trash", "", asAlice())
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("empty folder body = %q, want []", body)
	}
}

func TestGetMail_NotFound(t *testing.T) {
	f := newFixture(t, nil, "")
	rec := f.do(http.MethodGet, "/mail/no-such-id", "", asAlice())
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTrashLifecycleEndpoints(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()
	f.store.Create(ctx, &models.Mail{ID: "m1", Owner: "alice", Folder: models.FolderSent})

	rec := f.do(http.MethodPatch, "/mail/delete/m1", "", asAlice())
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}

	// Empty restore body defaults to inbox.
	rec = f.do(http.MethodPatch, "/mail/restore/m1", "", asAlice())
	if rec.Code != http.StatusOK {
		t.Fatalf("restore: status = %d, body %s", rec.Code, rec.Body.String())
	}
	m, _ := f.store.Get(ctx, "alice", "m1")
	if m.Folder != models.FolderInbox {
		t.Errorf("restored folder = %s, want inbox", m.Folder)
	}

	// Explicit restore target.
	f.do(http.MethodPatch, "/mail/delete/m1", "", asAlice())
	rec = f.do(http.MethodPatch, "/mail/restore/m1", `{"folder":"sent"}`, asAlice())
	if rec.Code != http.StatusOK {
		t.Fatalf("restore to sent: status = %d", rec.Code)
	}
	m, _ = f.store.Get(ctx, "alice", "m1")
	if m.Folder != models.FolderSent {
		t.Errorf("restored folder = %s, want sent", m.Folder)
	}

	// Invalid restore target.
	f.do(http.MethodPatch, "/mail/delete/m1", "", asAlice())
	rec = f.do(http.MethodPatch, "/mail/restore/m1", `{"folder":"scheduled"}`, asAlice())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("restore to scheduled: status = %d, want 400", rec.Code)
	}

	rec = f.do(http.MethodDelete, "/mail/trash", "", asAlice())
	if rec.Code != http.StatusOK {
		t.Fatalf("empty trash: status = %d", rec.Code)
	}
	var result map[string]int
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result["deleted"] != 1 {
		t.Errorf("deleted = %d, want 1", result["deleted"])
	}
}

func TestDraftEndpoint(t *testing.T) {
	f := newFixture(t, nil, "")

	rec := f.do(http.MethodPost, "/mail/draft", `{"subject":"wip"}`, asAlice())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var m models.Mail
	json.Unmarshal(rec.Body.Bytes(), &m)
	if m.Folder != models.FolderDrafts || m.ID == "" {
		t.Errorf("draft = %+v", m)
	}

	// Updating by id keeps the same record.
	rec = f.do(http.MethodPost, "/mail/draft", `{"id":"`+m.ID+`","subject":"v2"}`, asAlice())
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	got, _ := f.store.Get(context.Background(), "alice", m.ID)
	if got.Subject != "v2" {
		t.Errorf("subject = %q, want v2", got.Subject)
	}

	rec = f.do(http.MethodPost, "/mail/draft", `{"id":"no-such","subject":"x"}`, asAlice())
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown draft id: status = %d, want 404", rec.Code)
	}
}

func TestProcessScheduled_SecretGuard(t *testing.T) {
	f := newFixture(t, nil, "s3cret")

	rec := f.do(http.MethodPost, "/mail/process-scheduled", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no secret: status = %d, want 401", rec.Code)
	}

	rec = f.do(http.MethodPost, "/mail/process-scheduled", "",
		map[string]string{"X-Dispatch-Secret": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", rec.Code)
	}

	rec = f.do(http.MethodPost, "/mail/process-scheduled", "",
		map[string]string{"X-Dispatch-Secret": "s3cret"})
	if rec.Code != http.StatusOK {
		t.Errorf("correct secret: status = %d, want 200", rec.Code)
	}
	var summary scheduler.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Errorf("summary decode: %v", err)
	}
}

func TestProcessScheduled_DispatchesDue(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	f.store.Create(ctx, &models.Mail{
		ID: "m1", Owner: "alice", To: "bob@elsewhere.com",
		Folder: models.FolderScheduled, IsScheduled: true, ScheduledAt: &past,
	})

	rec := f.do(http.MethodPost, "/mail/process-scheduled", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var summary scheduler.Summary
	json.Unmarshal(rec.Body.Bytes(), &summary)
	if summary.Processed != 1 {
		t.Errorf("summary = %+v, want 1 processed", summary)
	}
	m, _ := f.store.Get(ctx, "alice", "m1")
	if m.Folder != models.FolderSent {
		t.Errorf("folder = %s, want sent", m.Folder)
	}
}

func TestAssistEndpoint(t *testing.T) {
	// Unconfigured assist.
	f := newFixture(t, nil, "")
	rec := f.do(http.MethodPost, "/mail/assist", `{"prompt":"write an email"}`, asAlice())
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured: status = %d, want 503", rec.Code)
	}

	f = newFixture(t, &mockDrafter{text: "Dear Bob,"}, "")
	rec = f.do(http.MethodPost, "/mail/assist", `{"prompt":"write an email"}`, asAlice())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["text"] != "Dear Bob," {
		t.Errorf("text = %q", resp["text"])
	}

	rec = f.do(http.MethodPost, "/mail/assist", `{"prompt":"  "}`, asAlice())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank prompt: status = %d, want 400", rec.Code)
	}
}
