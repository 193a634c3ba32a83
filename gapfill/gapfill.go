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

// Package gapfill keeps the measurement store current by closing the
// coverage gap between the latest stored timestamp and now for every
// configured (area, endpoint) pair.
package gapfill

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/gridsync/database/measurement"
	"github.com/blinklabs-io/gridsync/database/models"
	"github.com/blinklabs-io/gridsync/event"
	"github.com/blinklabs-io/gridsync/market"
	"github.com/blinklabs-io/gridsync/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultLookback = 3 * 365 * 24 * time.Hour

// BackfillDelegate starts a historical backfill for streams with no
// stored data at all; those are too deep for incremental gap-filling.
type BackfillDelegate interface {
	StartBackfill(
		ctx context.Context,
		area market.Area,
		endpoint market.Endpoint,
		window market.Interval,
	) (*models.BackfillProgress, error)
}

// Config describes the gap-fill orchestrator.
type Config struct {
	Areas        []market.Area
	Endpoints    []market.Endpoint
	Scheduler    *scheduler.Scheduler
	Measurements measurement.Store
	// Backfill handles streams with no stored data. Optional: without
	// it such streams are skipped with a warning.
	Backfill BackfillDelegate
	EventBus *event.Bus
	Logger   *slog.Logger
	// DefaultLookback is the historical depth requested when a stream
	// has no data and is routed to backfill.
	DefaultLookback time.Duration
	PromRegistry    prometheus.Registerer
}

// PassResult summarizes one gap-fill pass.
type PassResult struct {
	ChunksDispatched int
	PointsIngested   int64
	Failures         int
	Skipped          int
	BackfillsStarted int
}

// Orchestrator runs gap-fill passes. Gaps are recomputed from store
// state on every pass, so no progress is persisted: the operation is
// self-healing by construction.
type Orchestrator struct {
	config  Config
	logger  *slog.Logger
	metrics *gapfillMetrics
	nowFunc func() time.Time
}

type gapfillMetrics struct {
	passesTotal   prometheus.Counter
	failuresTotal prometheus.Counter
}

// New creates a gap-fill orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("gapfill: scheduler is required")
	}
	if cfg.Measurements == nil {
		return nil, errors.New("gapfill: measurement store is required")
	}
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = DefaultLookback
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	o := &Orchestrator{
		config:  cfg,
		logger:  logger.With("component", "gapfill"),
		nowFunc: time.Now,
	}
	if cfg.PromRegistry != nil {
		o.metrics = &gapfillMetrics{
			passesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "gridsync_gapfill_passes_total",
					Help: "Total gap-fill passes run",
				},
			),
			failuresTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "gridsync_gapfill_chunk_failures_total",
					Help: "Total gap-fill chunk failures",
				},
			),
		}
		cfg.PromRegistry.MustRegister(
			o.metrics.passesTotal,
			o.metrics.failuresTotal,
		)
	}
	return o, nil
}

// RunPass computes and closes the coverage gap for every configured
// (area, endpoint) pair. Areas run concurrently up to the scheduler's
// gate; endpoints within an area run in order. A failing pair never
// blocks the others, and no error escapes to the periodic trigger.
func (o *Orchestrator) RunPass(ctx context.Context) PassResult {
	if o.metrics != nil {
		o.metrics.passesTotal.Inc()
	}
	var (
		mu    sync.Mutex
		total PassResult
		wg    sync.WaitGroup
	)
	for _, area := range o.config.Areas {
		if err := o.config.Scheduler.AcquireArea(ctx); err != nil {
			o.logger.Info(
				"gap-fill pass cancelled",
				"area", string(area),
			)
			break
		}
		wg.Add(1)
		go func(area market.Area) {
			defer wg.Done()
			defer o.config.Scheduler.ReleaseArea()
			result := o.fillArea(ctx, area)
			mu.Lock()
			total.ChunksDispatched += result.ChunksDispatched
			total.PointsIngested += result.PointsIngested
			total.Failures += result.Failures
			total.Skipped += result.Skipped
			total.BackfillsStarted += result.BackfillsStarted
			mu.Unlock()
		}(area)
	}
	wg.Wait()
	o.logger.Info(
		"gap-fill pass complete",
		"chunks", total.ChunksDispatched,
		"points", total.PointsIngested,
		"failures", total.Failures,
		"skipped", total.Skipped,
		"backfills_started", total.BackfillsStarted,
	)
	return total
}

func (o *Orchestrator) fillArea(
	ctx context.Context,
	area market.Area,
) PassResult {
	var result PassResult
	for _, endpoint := range o.config.Endpoints {
		if ctx.Err() != nil {
			return result
		}
		o.fillEndpoint(ctx, area, endpoint, &result)
	}
	return result
}

func (o *Orchestrator) fillEndpoint(
	ctx context.Context,
	area market.Area,
	endpoint market.Endpoint,
	result *PassResult,
) {
	logger := o.logger.With(
		"area", string(area),
		"endpoint", endpoint.Name,
	)
	latest, ok, err := o.config.Measurements.LatestTimestamp(
		ctx,
		area,
		endpoint.DataType,
		endpoint.BusinessType,
	)
	if err != nil {
		logger.Error("failed to read latest timestamp", "error", err)
		result.Failures++
		return
	}
	now := o.nowFunc().UTC()
	if !ok {
		// No stored data at all: this is a full-history gap, too deep
		// for incremental filling. Route to backfill with the default
		// lookback instead of silently skipping.
		if o.config.Backfill == nil {
			logger.Warn("stream has no data and no backfill delegate")
			result.Skipped++
			return
		}
		window := market.Interval{
			From: now.Add(-o.config.DefaultLookback),
			To:   now,
		}
		if _, err := o.config.Backfill.StartBackfill(
			ctx, area, endpoint, window,
		); err != nil {
			logger.Error("failed to start backfill", "error", err)
			result.Failures++
			return
		}
		logger.Info(
			"stream has no data, routed to backfill",
			"window", window.String(),
		)
		result.BackfillsStarted++
		return
	}
	gap := market.Interval{From: latest, To: now}
	if gap.Duration() < endpoint.MinInterval {
		// Nothing worth requesting yet
		result.Skipped++
		return
	}
	if o.config.EventBus != nil {
		o.config.EventBus.Publish(
			event.GapDetectedEventType,
			event.NewEvent(
				event.GapDetectedEventType,
				event.GapDetectedEvent{
					Area:     area,
					Endpoint: endpoint.Name,
					Gap:      gap,
				},
			),
		)
	}
	chunks := scheduler.Partition(gap, endpoint.GapFillWindow)
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return
		}
		res := o.config.Scheduler.Collect(ctx, area, endpoint, chunk)
		result.ChunksDispatched++
		if !res.Success {
			// Log and continue: the next pass recomputes the gap from
			// store state, so nothing is lost
			logger.Warn(
				"chunk collection failed",
				"chunk", chunk.Interval.String(),
				"error", res.Err,
			)
			if o.metrics != nil {
				o.metrics.failuresTotal.Inc()
			}
			result.Failures++
			continue
		}
		result.PointsIngested += res.PointsIngested
	}
}
