// Copyright 2026 Blink Labs Software
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

// Package api exposes the operator REST surface: backfill control,
// gap-fill triggering, and coverage inspection.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/blinklabs-io/gridsync/backfill"
	"github.com/blinklabs-io/gridsync/database/models"
	"github.com/blinklabs-io/gridsync/gapfill"
	"github.com/blinklabs-io/gridsync/market"
)

// Backfiller is the subset of backfill operations the API needs.
type Backfiller interface {
	StartBackfill(
		ctx context.Context,
		area market.Area,
		endpoint market.Endpoint,
		window market.Interval,
	) (*models.BackfillProgress, error)
	ResumeBackfill(
		ctx context.Context,
		progressID uint,
	) (*models.BackfillProgress, error)
	GetStatus(
		ctx context.Context,
		progressID uint,
	) (*models.BackfillProgress, error)
	List(ctx context.Context) ([]models.BackfillProgress, error)
	AnalyzeCoverage(
		ctx context.Context,
		areas []market.Area,
		endpoints []market.Endpoint,
		lookbackYears int,
	) ([]backfill.CoverageGap, error)
}

// GapFiller triggers an on-demand gap-fill pass.
type GapFiller interface {
	RunPass(ctx context.Context) gapfill.PassResult
}

// Config describes API server construction.
type Config struct {
	ListenAddress string
	Areas         []market.Area
	Endpoints     []market.Endpoint
	Backfill      Backfiller
	GapFill       GapFiller
	Logger        *slog.Logger
}

// Api is the operator REST API server.
type Api struct {
	config     Config
	logger     *slog.Logger
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new API server instance.
func New(cfg Config) *Api {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	return &Api{
		config: cfg,
		logger: logger.With("component", "api"),
	}
}

// Handler returns the route table as an http.Handler.
func (a *Api) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /v1/coverage", a.handleCoverage)
	mux.HandleFunc("GET /v1/backfill", a.handleListBackfills)
	mux.HandleFunc("GET /v1/backfill/{id}", a.handleGetBackfill)
	mux.HandleFunc("POST /v1/backfill", a.handleStartBackfill)
	mux.HandleFunc(
		"POST /v1/backfill/{id}/resume",
		a.handleResumeBackfill,
	)
	mux.HandleFunc("POST /v1/gapfill/run", a.handleRunGapFill)
	return mux
}

// Start starts the HTTP server in a background goroutine.
func (a *Api) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr:              a.config.ListenAddress,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	a.httpServer = server
	a.mu.Unlock()

	// Bind the listening socket first so port conflicts surface
	// immediately, then serve in a background goroutine
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		a.mu.Lock()
		a.httpServer = nil
		a.mu.Unlock()
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("API server error", "error", err)
		}
	}()
	a.logger.Info(
		"API listener started on " + a.config.ListenAddress,
	)

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		srv := a.httpServer
		a.httpServer = nil
		a.mu.Unlock()
		if srv != nil {
			//nolint:contextcheck
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				30*time.Second,
			)
			defer cancel()
			//nolint:contextcheck
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error(
					"failed to shutdown API server on context cancellation",
					"error", err,
				)
			}
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (a *Api) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()
	if srv != nil {
		a.logger.Debug("shutting down API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown API server: %w", err)
		}
	}
	return nil
}
