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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/gridsync/collector"
	"github.com/blinklabs-io/gridsync/database/archive"
	"github.com/blinklabs-io/gridsync/database/measurement"
	"github.com/blinklabs-io/gridsync/event"
	"github.com/blinklabs-io/gridsync/market"
	"github.com/blinklabs-io/gridsync/transform"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultRateLimitDelay     = 2 * time.Second
	DefaultMaxConcurrentAreas = 1
)

// CollectionResult is the outcome of dispatching one chunk.
type CollectionResult struct {
	Success        bool
	PointsIngested int64
	Err            error
}

// Config describes scheduler construction.
type Config struct {
	Collector    collector.Collector
	Measurements measurement.Store
	// Archive receives raw document payloads after every successful
	// fetch. Optional.
	Archive  *archive.Store
	EventBus *event.Bus
	Logger   *slog.Logger
	// RateLimitDelay is the mandatory minimum delay between
	// consecutive upstream requests for the same area.
	RateLimitDelay time.Duration
	// MaxConcurrentAreas bounds how many areas may be collected at
	// once. Never unbounded; defaults to 1 (sequential).
	MaxConcurrentAreas int
	PromRegistry       prometheus.Registerer
}

// Scheduler serializes chunk requests per area and bounds cross-area
// concurrency. It does not retry: retry policy differs between
// callers and belongs to them.
type Scheduler struct {
	config      Config
	logger      *slog.Logger
	areaGate    chan struct{}
	metrics     *schedulerMetrics
	lastRequest map[market.Area]time.Time
	mu          sync.Mutex
}

type schedulerMetrics struct {
	chunksTotal    *prometheus.CounterVec
	pointsIngested prometheus.Counter
}

// New creates a chunk scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Collector == nil {
		return nil, errors.New("scheduler: collector is required")
	}
	if cfg.Measurements == nil {
		return nil, errors.New("scheduler: measurement store is required")
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = DefaultRateLimitDelay
	}
	if cfg.MaxConcurrentAreas <= 0 {
		cfg.MaxConcurrentAreas = DefaultMaxConcurrentAreas
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s := &Scheduler{
		config:      cfg,
		logger:      logger.With("component", "scheduler"),
		areaGate:    make(chan struct{}, cfg.MaxConcurrentAreas),
		lastRequest: make(map[market.Area]time.Time),
	}
	if cfg.PromRegistry != nil {
		s.metrics = &schedulerMetrics{
			chunksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gridsync_chunks_total",
					Help: "Total chunks dispatched by result",
				},
				[]string{"result"},
			),
			pointsIngested: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "gridsync_points_ingested_total",
					Help: "Total measurement points ingested",
				},
			),
		}
		cfg.PromRegistry.MustRegister(
			s.metrics.chunksTotal,
			s.metrics.pointsIngested,
		)
	}
	return s, nil
}

// AcquireArea blocks until a cross-area concurrency slot is available
// or the context is done. Every successful acquire must be paired with
// ReleaseArea.
func (s *Scheduler) AcquireArea(ctx context.Context) error {
	select {
	case s.areaGate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseArea frees a concurrency slot.
func (s *Scheduler) ReleaseArea() {
	<-s.areaGate
}

// Collect dispatches one chunk: pace the area, fetch documents,
// transform them, archive the raw payloads, and upsert the records.
// A transformation failure skips the offending document and keeps the
// chunk's siblings (partial-success chunk); fetch and store failures
// fail the whole chunk.
func (s *Scheduler) Collect(
	ctx context.Context,
	area market.Area,
	endpoint market.Endpoint,
	chunk Chunk,
) CollectionResult {
	if chunk.Duration() > endpoint.MaxRequestWindow {
		return s.failure(fmt.Errorf(
			"chunk %s exceeds max request window %s for endpoint %s",
			chunk.Interval,
			endpoint.MaxRequestWindow,
			endpoint.Name,
		))
	}
	if err := s.paceArea(ctx, area); err != nil {
		return s.failure(err)
	}
	docs, err := s.config.Collector.Fetch(
		ctx,
		area,
		endpoint.DataType,
		endpoint.BusinessType,
		chunk.From,
		chunk.To,
	)
	if err != nil {
		return s.failure(fmt.Errorf("fetch chunk %s: %w", chunk.Interval, err))
	}
	var records []market.Record
	for _, doc := range docs {
		if s.config.Archive != nil {
			if err := s.config.Archive.Put(
				area,
				endpoint.DataType,
				doc.DocumentID(),
				doc.Raw(),
			); err != nil {
				s.logger.Warn(
					"failed to archive document",
					"document_id", doc.DocumentID(),
					"error", err,
				)
			}
		}
		docRecords, err := transform.Transform(doc, area, endpoint.DataType)
		if err != nil {
			// Skip the offending document; siblings still ingest
			s.logger.Warn(
				"skipping malformed document",
				"area", string(area),
				"endpoint", endpoint.Name,
				"document_id", doc.DocumentID(),
				"error", err,
			)
			continue
		}
		records = append(records, docRecords...)
	}
	count, err := s.config.Measurements.UpsertBatch(ctx, records)
	if err != nil {
		return s.failure(fmt.Errorf("upsert chunk %s: %w", chunk.Interval, err))
	}
	if s.metrics != nil {
		s.metrics.chunksTotal.WithLabelValues("success").Inc()
		s.metrics.pointsIngested.Add(float64(count))
	}
	if s.config.EventBus != nil {
		s.config.EventBus.Publish(
			event.ChunkIngestedEventType,
			event.NewEvent(
				event.ChunkIngestedEventType,
				event.ChunkIngestedEvent{
					Area:           area,
					Endpoint:       endpoint.Name,
					Chunk:          chunk.Interval,
					PointsIngested: count,
				},
			),
		)
	}
	return CollectionResult{
		Success:        true,
		PointsIngested: count,
	}
}

// paceArea enforces the minimum inter-request delay for an area,
// waiting out the remainder if the previous request was too recent.
func (s *Scheduler) paceArea(
	ctx context.Context,
	area market.Area,
) error {
	s.mu.Lock()
	last, ok := s.lastRequest[area]
	now := time.Now()
	var wait time.Duration
	if ok {
		if elapsed := now.Sub(last); elapsed < s.config.RateLimitDelay {
			wait = s.config.RateLimitDelay - elapsed
		}
	}
	// Reserve the slot up front so concurrent callers for the same
	// area space out rather than stampede
	s.lastRequest[area] = now.Add(wait)
	s.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) failure(err error) CollectionResult {
	if s.metrics != nil {
		s.metrics.chunksTotal.WithLabelValues("failure").Inc()
	}
	return CollectionResult{Err: err}
}
