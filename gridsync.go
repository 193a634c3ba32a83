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

// Package gridsync assembles the time-series ingestion engine: the
// upstream collector, chunk scheduler, gap-fill and backfill
// orchestrators, storage, and the operator API.
package gridsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/gridsync/api"
	"github.com/blinklabs-io/gridsync/backfill"
	"github.com/blinklabs-io/gridsync/collector"
	"github.com/blinklabs-io/gridsync/database"
	"github.com/blinklabs-io/gridsync/event"
	"github.com/blinklabs-io/gridsync/gapfill"
	"github.com/blinklabs-io/gridsync/scheduler"
)

type Ingestor struct {
	config        Config
	eventBus      *event.Bus
	db            *database.Database
	collector     *collector.Client
	scheduler     *scheduler.Scheduler
	gapFill       *gapfill.Orchestrator
	backfill      *backfill.Backfiller
	api           *api.Api
	shutdownFuncs []func(context.Context) error
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Ingestor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Ingestor{
		config:   cfg,
		eventBus: event.NewBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}, nil
}

// Run assembles and starts every component, resumes backfill jobs
// interrupted by a previous shutdown, and blocks until Stop is called.
func (i *Ingestor) Run(ctx context.Context) error {
	// Configure tracing
	if i.config.tracing {
		if err := i.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:           i.config.dataDir,
		MeasurementPlugin: i.config.measurementPlugin,
		Clickhouse:        i.config.clickhouse,
		Logger:            i.config.logger,
		PromRegistry:      i.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	i.db = db
	// Upstream collector
	i.collector, err = collector.NewClient(collector.ClientConfig{
		BaseURL:       i.config.upstreamBaseUrl,
		SecurityToken: i.config.securityToken,
		Timeout:       i.config.requestTimeout,
		Logger:        i.config.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}
	// Chunk scheduler
	i.scheduler, err = scheduler.New(scheduler.Config{
		Collector:          i.collector,
		Measurements:       i.db.Measurements(),
		Archive:            i.db.Archive(),
		EventBus:           i.eventBus,
		Logger:             i.config.logger,
		RateLimitDelay:     i.config.rateLimitDelay,
		MaxConcurrentAreas: i.config.maxConcurrentAreas,
		PromRegistry:       i.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	// Backfill orchestrator
	i.backfill, err = backfill.New(backfill.Config{
		Database:     i.db,
		Scheduler:    i.scheduler,
		Endpoints:    i.config.endpoints,
		EventBus:     i.eventBus,
		Logger:       i.config.logger,
		ChunkRetries: i.config.chunkRetries,
		RetryBackoff: i.config.retryBackoff,
		PromRegistry: i.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to create backfill orchestrator: %w", err)
	}
	// Gap-fill orchestrator
	i.gapFill, err = gapfill.New(gapfill.Config{
		Areas:           i.config.areas,
		Endpoints:       i.config.endpoints,
		Scheduler:       i.scheduler,
		Measurements:    i.db.Measurements(),
		Backfill:        i.backfill,
		EventBus:        i.eventBus,
		Logger:          i.config.logger,
		DefaultLookback: i.config.defaultLookback,
		PromRegistry:    i.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to create gap-fill orchestrator: %w", err)
	}
	// Resume backfill jobs interrupted by a previous shutdown
	resumed, err := i.backfill.ResumeInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to resume interrupted backfills: %w", err)
	}
	if resumed > 0 {
		i.config.logger.Info(
			"resumed interrupted backfill jobs",
			"count", resumed,
		)
	}
	// Operator API
	if i.config.apiListenAddress != "" {
		i.api = api.New(api.Config{
			ListenAddress: i.config.apiListenAddress,
			Areas:         i.config.areas,
			Endpoints:     i.config.endpoints,
			Backfill:      i.backfill,
			GapFill:       i.gapFill,
			Logger:        i.config.logger,
		})
		if err := i.api.Start(ctx); err != nil {
			return err
		}
	}
	// Periodic gap-fill
	if i.config.gapFillInterval > 0 {
		go i.runGapFillLoop(ctx)
	}

	// Wait for shutdown signal
	<-i.done
	return nil
}

// runGapFillLoop runs an immediate gap-fill pass and then one per
// configured interval until the context is cancelled. Pass failures
// are already absorbed per stream; the loop itself never exits early.
func (i *Ingestor) runGapFillLoop(ctx context.Context) {
	i.gapFill.RunPass(ctx)
	ticker := time.NewTicker(i.config.gapFillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			i.gapFill.RunPass(ctx)
		case <-ctx.Done():
			return
		case <-i.done:
			return
		}
	}
}

// GapFill returns the gap-fill orchestrator for on-demand passes.
func (i *Ingestor) GapFill() *gapfill.Orchestrator {
	return i.gapFill
}

// Backfill returns the backfill orchestrator.
func (i *Ingestor) Backfill() *backfill.Backfiller {
	return i.backfill
}

func (i *Ingestor) Stop() error {
	var err error
	i.shutdownOnce.Do(func() {
		err = i.shutdown()
	})
	return err
}

func (i *Ingestor) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if i.config.shutdownTimeout > 0 {
		shutdownTimeout = i.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	i.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	i.config.logger.Debug("shutdown phase 1: stopping new work")

	if i.api != nil {
		if stopErr := i.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: Settle running jobs at a consistent resume point
	i.config.logger.Debug("shutdown phase 2: settling jobs")

	if i.backfill != nil {
		i.backfill.Stop()
	}

	// Phase 3: Flush state and close database
	i.config.logger.Debug("shutdown phase 3: flushing state")

	if i.db != nil {
		if closeErr := i.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	i.config.logger.Debug("shutdown phase 4: cleanup resources")

	for _, fn := range i.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	i.shutdownFuncs = nil

	i.config.logger.Debug("graceful shutdown complete")
	close(i.done)
	return err
}
