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

// Package scheduler — the due-mail poller runs a background loop that
// periodically finds scheduled mail whose time has come and drives each
// record through claim → deliver → mark sent → fan-out. It has no
// request context; the owner comes from the stored record.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcem/maildash/internal/delivery"
	"github.com/bcem/maildash/internal/fanout"
	"github.com/bcem/maildash/internal/mailbox"
	"github.com/bcem/maildash/internal/mailstore"
	"github.com/bcem/maildash/internal/models"
	"github.com/bcem/maildash/internal/queue"
)

// DispatchGuard is the optional cross-instance dedup filter. A SETNX-style
// IsNew complements the store-level claim when several pollers share one
// store.
type DispatchGuard interface {
	IsNew(ctx context.Context, mailID string) (bool, error)
	Forget(ctx context.Context, mailID string) error
}

// EventPublisher receives a best-effort event per successful dispatch.
type EventPublisher interface {
	PublishDelivered(ctx context.Context, event queue.DeliveredEvent) error
}

// TickError records one failed dispatch within a tick.
type TickError struct {
	MailID string `json:"mailId"`
	Error  string `json:"error"`
}

// Summary aggregates one tick's outcome. It is operational visibility,
// not a client-facing response.
type Summary struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Errors    []TickError `json:"errors,omitempty"`
}

// Config wires a Poller. Guard and Events may be nil.
type Config struct {
	Store    mailstore.Store
	Gateway  delivery.Gateway
	Fanout   *fanout.Resolver
	Guard    DispatchGuard
	Events   EventPublisher
	Interval time.Duration
	Lookback time.Duration // 0 disables the lower bound on the due query
	ClaimTTL time.Duration
	Now      func() time.Time
}

// Poller periodically dispatches due scheduled mail.
type Poller struct {
	store    mailstore.Store
	gateway  delivery.Gateway
	fanout   *fanout.Resolver
	guard    DispatchGuard
	events   EventPublisher
	interval time.Duration
	lookback time.Duration
	claimTTL time.Duration
	now      func() time.Time
}

// NewPoller creates a due-mail poller.
func NewPoller(cfg Config) *Poller {
	p := &Poller{
		store:    cfg.Store,
		gateway:  cfg.Gateway,
		fanout:   cfg.Fanout,
		guard:    cfg.Guard,
		events:   cfg.Events,
		interval: cfg.Interval,
		lookback: cfg.Lookback,
		claimTTL: cfg.ClaimTTL,
		now:      cfg.Now,
	}
	if p.interval <= 0 {
		p.interval = 60 * time.Second
	}
	if p.claimTTL <= 0 {
		p.claimTTL = 5 * time.Minute
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Run starts the polling loop. It blocks until the context is cancelled.
// The first tick fires immediately so a fresh process does not sit idle
// for a full interval.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("due-mail poller starting",
		"interval", p.interval,
		"lookback", p.lookback,
	)

	p.Tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("due-mail poller stopping")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick is the single authoritative dispatch pass: it queries for due
// records and processes each one independently. A failing record is
// reported in the summary and left scheduled for the next tick; it never
// stops the rest of the batch. There is no backoff and no retry cap — a
// permanently failing provider retries every tick until fixed.
func (p *Poller) Tick(ctx context.Context) Summary {
	var summary Summary

	now := p.now()
	due, err := p.store.ListDue(ctx, now, p.lookback)
	if err != nil {
		slog.Error("due query failed", "error", err)
		summary.Failed++
		summary.Errors = append(summary.Errors, TickError{Error: err.Error()})
		return summary
	}

	if len(due) == 0 {
		slog.Debug("no due mail")
		return summary
	}

	slog.Info("dispatching due mail", "count", len(due))

	for i := range due {
		m := &due[i]
		if err := p.dispatch(ctx, m, now); err != nil {
			slog.Error("dispatch failed, leaving record scheduled",
				"mail_id", m.ID,
				"owner", m.Owner,
				"error", err,
			)
			summary.Failed++
			summary.Errors = append(summary.Errors, TickError{MailID: m.ID, Error: err.Error()})
			continue
		}
		summary.Processed++
	}

	slog.Info("tick complete",
		"processed", summary.Processed,
		"failed", summary.Failed,
	)
	return summary
}

// dispatch drives one due record: claim, deliver, mark sent, fan out.
func (p *Poller) dispatch(ctx context.Context, m *models.Mail, now time.Time) error {
	claimed, err := p.store.ClaimForDispatch(ctx, m.ID, now, p.claimTTL)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker holds it, or it left the scheduled folder since
		// the due query ran.
		slog.Debug("skipping unclaimed record", "mail_id", m.ID)
		return nil
	}

	if p.guard != nil {
		isNew, err := p.guard.IsNew(ctx, m.ID)
		if err != nil {
			slog.Warn("dispatch guard check failed, proceeding", "error", err)
		} else if !isNew {
			// Delivered by another instance whose MarkSent did not land.
			slog.Info("record already dispatched elsewhere, marking sent", "mail_id", m.ID)
			if err := p.store.MarkSent(ctx, m.ID); err != nil && err != mailstore.ErrNotFound {
				return err
			}
			return nil
		}
	}

	receipt, err := p.gateway.Deliver(ctx, mailbox.BuildRequest(m))
	if err != nil {
		if p.guard != nil {
			if ferr := p.guard.Forget(ctx, m.ID); ferr != nil {
				slog.Warn("failed to clear dispatch guard", "mail_id", m.ID, "error", ferr)
			}
		}
		if rerr := p.store.ReleaseClaim(ctx, m.ID); rerr != nil {
			slog.Error("failed to release claim", "mail_id", m.ID, "error", rerr)
		}
		return err
	}

	if err := p.store.MarkSent(ctx, m.ID); err != nil {
		// The mail went out; the guard prevents redelivery and a later
		// tick will finish the transition.
		slog.Error("delivered but failed to mark sent", "mail_id", m.ID, "error", err)
	}

	copies := p.fanout.Materialize(ctx, m)
	slog.Info("scheduled mail dispatched",
		"mail_id", m.ID,
		"owner", m.Owner,
		"message_id", receipt.MessageID,
		"inbox_copies", copies,
	)

	if p.events != nil {
		event := queue.DeliveredEvent{
			MailID:      m.ID,
			Owner:       m.Owner,
			MessageID:   receipt.MessageID,
			To:          m.To,
			Subject:     m.Subject,
			DeliveredAt: p.now().UTC().Format(time.RFC3339),
		}
		if err := p.events.PublishDelivered(ctx, event); err != nil {
			slog.Warn("failed to publish delivered event", "mail_id", m.ID, "error", err)
		}
	}

	return nil
}
