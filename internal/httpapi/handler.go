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

// Package httpapi exposes the mail lifecycle over HTTP. Authentication
// and request validation live in the gateway in front of this service;
// it injects the caller's identity via the X-User-ID and X-User-Email
// headers. The dispatch endpoint is instead guarded by a shared secret
// meant for an external timer trigger.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bcem/maildash/internal/assist"
	"github.com/bcem/maildash/internal/delivery"
	"github.com/bcem/maildash/internal/mailbox"
	"github.com/bcem/maildash/internal/mailstore"
	"github.com/bcem/maildash/internal/models"
	"github.com/bcem/maildash/internal/scheduler"
)

// dispatchSecretHeader carries the shared secret for /mail/process-scheduled.
const dispatchSecretHeader = "X-Dispatch-Secret"

// Handler serves the mail API routes.
type Handler struct {
	mailbox        *mailbox.Service
	poller         *scheduler.Poller
	drafter        assist.Drafter // nil when assist is not configured
	dispatchSecret string         // empty leaves the dispatch route open
}

// NewHandler creates the API handler.
func NewHandler(svc *mailbox.Service, poller *scheduler.Poller, drafter assist.Drafter, dispatchSecret string) *Handler {
	return &Handler{
		mailbox:        svc,
		poller:         poller,
		drafter:        drafter,
		dispatchSecret: dispatchSecret,
	}
}

// Register mounts all mail routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /mail", h.listFolder)
	mux.HandleFunc("GET /mail/{id}", h.getMail)
	mux.HandleFunc("POST /mail/send", h.send)
	mux.HandleFunc("POST /mail/draft", h.saveDraft)
	mux.HandleFunc("PATCH /mail/delete/{id}", h.deleteMail)
	mux.HandleFunc("PATCH /mail/restore/{id}", h.restoreMail)
	mux.HandleFunc("DELETE /mail/trash", h.emptyTrash)
	mux.HandleFunc("POST /mail/process-scheduled", h.processScheduled)
	mux.HandleFunc("POST /mail/assist", h.assistDraft)
}

// identity is the caller identity injected by the auth gateway.
type identity struct {
	userID  string
	address string
}

func callerIdentity(r *http.Request) (identity, bool) {
	id := identity{
		userID:  strings.TrimSpace(r.Header.Get("X-User-ID")),
		address: strings.TrimSpace(r.Header.Get("X-User-Email")),
	}
	return id, id.userID != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorBody{Error: message, Details: details})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Raw provider payloads never leak beyond the details field.
func writeServiceError(w http.ResponseWriter, err error) {
	var vErr *mailbox.ValidationError
	var cfgErr *delivery.ConfigError
	var delErr *delivery.DeliveryError
	var transErr *delivery.TransientError

	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Reason, "")
	case errors.Is(err, mailstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "mail not found", "")
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusInternalServerError, "delivery not configured", "")
	case errors.As(err, &delErr):
		writeError(w, http.StatusBadGateway, "provider rejected the message", delErr.Detail)
	case errors.As(err, &transErr):
		writeError(w, http.StatusBadGateway, "delivery failed, try again", "")
	default:
		slog.Error("unhandled service error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func (h *Handler) listFolder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity", "")
		return
	}

	folder, err := models.ParseFolder(r.URL.Query().Get("folder"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	mails, err := h.mailbox.List(r.Context(), caller.userID, folder)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if mails == nil {
		mails = []models.Mail{}
	}
	writeJSON(w, http.StatusOK, mails)
}

func (h *Handler) getMail(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity", "")
		return
	}

	m, err := h.mailbox.Get(r.Context(), caller.userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity", "")
		return
	}

	var p mailbox.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	m, err := h.mailbox.Send(r.Context(), caller.userID, caller.address, p)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type draftRequest struct {
	mailbox.Payload
	ID string `json:"id,omitempty"`
}

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity", "")
		return
	}

	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	m, err := h.mailbox.SaveDraft(r.Context(), caller.userID, caller.address, req.Payload, req.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMail(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity", "")
		return
	}

	if err := h.mailbox.Delete(r.Context(), caller.userID, r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "trashed"})
}

func (h *Handler) restoreMail(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity", "")
		return
	}

	var body struct {
		Folder string `json:"folder"`
	}
	if r.Body != nil {
		// An empty body defaults to inbox.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if err := h.mailbox.Restore(r.Context(), caller.userID, r.PathValue("id"), models.Folder(body.Folder)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (h *Handler) emptyTrash(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity", "")
		return
	}

	count, err := h.mailbox.EmptyTrash(r.Context(), caller.userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

// processScheduled runs one synchronous dispatch tick. It is meant for
// an external timer trigger and uses a shared secret instead of user
// auth. An unset secret leaves the route open — acceptable only behind a
// private network, and called out in the deployment docs.
func (h *Handler) processScheduled(w http.ResponseWriter, r *http.Request) {
	if h.dispatchSecret != "" && r.Header.Get(dispatchSecretHeader) != h.dispatchSecret {
		writeError(w, http.StatusUnauthorized, "bad dispatch secret", "")
		return
	}

	summary := h.poller.Tick(r.Context())
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) assistDraft(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerIdentity(r); !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity", "")
		return
	}
	if h.drafter == nil {
		writeError(w, http.StatusServiceUnavailable, "assist not configured", "")
		return
	}

	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required", "")
		return
	}

	text, err := h.drafter.Draft(r.Context(), body.Prompt)
	if err != nil {
		slog.Error("assist draft failed", "error", err)
		writeError(w, http.StatusBadGateway, "assist service unavailable", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}
