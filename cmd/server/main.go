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

// Maildash — mail service
//
// Entry point for the mail lifecycle and delivery-scheduling service. It:
//  1. Loads configuration from config.yaml / environment
//  2. Connects to PostgreSQL and Redis
//  3. Selects the one configured delivery provider
//  4. Starts the due-mail poller
//  5. Serves the mail API and a health endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/maildash/internal/assist"
	"github.com/bcem/maildash/internal/config"
	"github.com/bcem/maildash/internal/dedup"
	"github.com/bcem/maildash/internal/delivery"
	"github.com/bcem/maildash/internal/directory"
	"github.com/bcem/maildash/internal/fanout"
	"github.com/bcem/maildash/internal/httpapi"
	"github.com/bcem/maildash/internal/mailbox"
	"github.com/bcem/maildash/internal/mailstore"
	"github.com/bcem/maildash/internal/queue"
	"github.com/bcem/maildash/internal/scheduler"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting maildash service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"provider", cfg.Provider.Kind,
		"dispatch_interval", cfg.DispatchInterval,
		"dispatch_lookback", cfg.DispatchLookback,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.DeliveredQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dispatch Guard ---
	guard := dedup.NewFilter(rdb)

	// --- Mail Store (Postgres) ---
	store, err := mailstore.NewPGStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise mail store", "error", err)
		os.Exit(1)
	}

	// --- Account Directory ---
	dir, err := directory.NewPGDirectory(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise account directory", "error", err)
		os.Exit(1)
	}

	// --- Delivery Provider ---
	gateway, err := delivery.FromConfig(ctx, cfg, 30*time.Second)
	if err != nil {
		slog.Error("failed to configure delivery provider", "error", err)
		os.Exit(1)
	}

	// --- Fan-out + Mailbox Service ---
	resolver := fanout.NewResolver(dir, store)
	svc := mailbox.NewService(store, gateway, resolver)

	// --- Due-Mail Poller ---
	poller := scheduler.NewPoller(scheduler.Config{
		Store:    store,
		Gateway:  gateway,
		Fanout:   resolver,
		Guard:    guard,
		Events:   publisher,
		Interval: cfg.DispatchInterval,
		Lookback: cfg.DispatchLookback,
		ClaimTTL: cfg.ClaimTTL,
	})
	go poller.Run(ctx)

	// --- Text-Generation Assist (optional) ---
	var drafter assist.Drafter
	if cfg.AssistURL != "" {
		drafter = assist.NewClient(cfg.AssistURL, cfg.AssistKey)
		slog.Info("assist configured", "url", cfg.AssistURL)
	}

	if cfg.DispatchSecret == "" {
		slog.Warn("DISPATCH_SECRET unset — /mail/process-scheduled is open")
	}

	// --- HTTP API ---
	mux := http.NewServeMux()
	handler := httpapi.NewHandler(svc, poller, drafter, cfg.DispatchSecret)
	handler.Register(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := publisher.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the poller

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("mail service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("mail service stopped")
}
