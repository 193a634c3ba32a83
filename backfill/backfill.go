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

// Package backfill drives resumable historical collection. Each job
// covers one (area, endpoint, window), persists its progress after
// every chunk, and survives process restarts: an interrupted job
// resumes strictly after its stored resume point, never re-requesting
// a completed chunk.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/gridsync/collector"
	"github.com/blinklabs-io/gridsync/database"
	"github.com/blinklabs-io/gridsync/database/models"
	"github.com/blinklabs-io/gridsync/event"
	"github.com/blinklabs-io/gridsync/market"
	"github.com/blinklabs-io/gridsync/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultChunkRetries is how many times a transient chunk failure
	// is retried before the job is marked failed.
	DefaultChunkRetries = 2
	// DefaultRetryBackoff is the base delay before a retry; it doubles
	// per attempt.
	DefaultRetryBackoff = 5 * time.Second
)

// ErrJobActive is returned when a resume is requested for a job that
// is already running in this process. The in_progress status acts as a
// lease; concurrent resumes are rejected, never queued silently.
var ErrJobActive = errors.New("backfill job is already running")

// ErrUnknownEndpoint is returned when a progress record references an
// endpoint that is no longer configured.
var ErrUnknownEndpoint = errors.New("no configured endpoint matches progress record")

// CoverageGapKind classifies a reported coverage gap.
type CoverageGapKind string

const (
	CoverageGapFull CoverageGapKind = "full" // no data stored at all
	CoverageGapHead CoverageGapKind = "head" // missing before earliest stored
	CoverageGapTail CoverageGapKind = "tail" // missing after latest stored
)

// CoverageGap is a missing sub-window reported by AnalyzeCoverage.
type CoverageGap struct {
	Area     market.Area
	Endpoint string
	Kind     CoverageGapKind
	Missing  market.Interval
}

// Config describes the backfill orchestrator.
type Config struct {
	Database  *database.Database
	Scheduler *scheduler.Scheduler
	// Endpoints is the configured endpoint table, used to map progress
	// records back to their descriptors on resume.
	Endpoints []market.Endpoint
	EventBus  *event.Bus
	Logger    *slog.Logger
	// ChunkRetries bounds transient-failure retries per chunk.
	ChunkRetries int
	// RetryBackoff is the base backoff delay, doubled per attempt.
	RetryBackoff time.Duration
	PromRegistry prometheus.Registerer
}

// Backfiller runs backfill jobs. At most the scheduler's area gate
// worth of jobs run simultaneously; additional jobs queue on the gate.
type Backfiller struct {
	config     Config
	logger     *slog.Logger
	metrics    *backfillMetrics
	rootCtx    context.Context
	rootCancel context.CancelFunc
	jobWg      sync.WaitGroup
	active     map[uint]struct{}
	activeMu   sync.Mutex
	nowFunc    func() time.Time
}

type backfillMetrics struct {
	jobsTotal  *prometheus.CounterVec
	activeJobs prometheus.Gauge
}

// New creates a backfill orchestrator.
func New(cfg Config) (*Backfiller, error) {
	if cfg.Database == nil {
		return nil, errors.New("backfill: database is required")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("backfill: scheduler is required")
	}
	if cfg.ChunkRetries <= 0 {
		cfg.ChunkRetries = DefaultChunkRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Backfiller{
		config:     cfg,
		logger:     logger.With("component", "backfill"),
		rootCtx:    ctx,
		rootCancel: cancel,
		active:     make(map[uint]struct{}),
		nowFunc:    time.Now,
	}
	if cfg.PromRegistry != nil {
		b.metrics = &backfillMetrics{
			jobsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gridsync_backfill_jobs_total",
					Help: "Total backfill jobs by terminal status",
				},
				[]string{"status"},
			),
			activeJobs: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gridsync_backfill_jobs_active",
					Help: "Backfill jobs currently running",
				},
			),
		}
		cfg.PromRegistry.MustRegister(
			b.metrics.jobsTotal,
			b.metrics.activeJobs,
		)
	}
	return b, nil
}

// AnalyzeCoverage compares stored coverage against the requested
// historical depth for every (area, endpoint) pair and reports the
// missing sub-windows. Read-only, safe to call anytime.
func (b *Backfiller) AnalyzeCoverage(
	ctx context.Context,
	areas []market.Area,
	endpoints []market.Endpoint,
	lookbackYears int,
) ([]CoverageGap, error) {
	if lookbackYears <= 0 {
		return nil, fmt.Errorf("invalid lookback years: %d", lookbackYears)
	}
	now := b.nowFunc().UTC()
	wantFrom := now.AddDate(-lookbackYears, 0, 0)
	var gaps []CoverageGap
	store := b.config.Database.Measurements()
	for _, area := range areas {
		for _, endpoint := range endpoints {
			earliest, ok, err := store.EarliestTimestamp(
				ctx,
				area,
				endpoint.DataType,
				endpoint.BusinessType,
			)
			if err != nil {
				return nil, fmt.Errorf("analyze coverage: %w", err)
			}
			if !ok {
				gaps = append(gaps, CoverageGap{
					Area:     area,
					Endpoint: endpoint.Name,
					Kind:     CoverageGapFull,
					Missing:  market.Interval{From: wantFrom, To: now},
				})
				continue
			}
			if earliest.After(wantFrom) {
				gaps = append(gaps, CoverageGap{
					Area:     area,
					Endpoint: endpoint.Name,
					Kind:     CoverageGapHead,
					Missing:  market.Interval{From: wantFrom, To: earliest},
				})
			}
			latest, ok, err := store.LatestTimestamp(
				ctx,
				area,
				endpoint.DataType,
				endpoint.BusinessType,
			)
			if err != nil {
				return nil, fmt.Errorf("analyze coverage: %w", err)
			}
			if ok && now.Sub(latest) >= endpoint.MinInterval {
				gaps = append(gaps, CoverageGap{
					Area:     area,
					Endpoint: endpoint.Name,
					Kind:     CoverageGapTail,
					Missing:  market.Interval{From: latest, To: now},
				})
			}
		}
	}
	return gaps, nil
}

// StartBackfill creates a new pending job for the window, claims it,
// and begins chunked collection in the background. The returned record
// reflects the claimed (in_progress) state.
func (b *Backfiller) StartBackfill(
	ctx context.Context,
	area market.Area,
	endpoint market.Endpoint,
	window market.Interval,
) (*models.BackfillProgress, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}
	if _, err := market.NewInterval(window.From, window.To); err != nil {
		return nil, err
	}
	record := &models.BackfillProgress{
		Area:         string(area),
		DataType:     string(endpoint.DataType),
		BusinessType: string(endpoint.BusinessType),
		WindowStart:  window.From.UTC(),
		WindowEnd:    window.To.UTC(),
	}
	if err := b.config.Database.CreateBackfillProgress(record); err != nil {
		return nil, err
	}
	return b.launch(record.ID, area, endpoint, false)
}

// ResumeBackfill resumes an interrupted or failed job, continuing
// strictly after the stored resume point. A completed job is a no-op.
// A job already running in this process is rejected with ErrJobActive.
func (b *Backfiller) ResumeBackfill(
	ctx context.Context,
	progressID uint,
) (*models.BackfillProgress, error) {
	record, err := b.config.Database.GetBackfillProgress(progressID)
	if err != nil {
		return nil, err
	}
	if record.Status == models.BackfillStatusCompleted {
		return record, nil
	}
	if b.isActive(progressID) {
		return nil, ErrJobActive
	}
	endpoint, err := b.endpointFor(record)
	if err != nil {
		return nil, err
	}
	// An in_progress record with no live job in this process is a
	// stale claim from an interrupted run; taking it over is safe
	return b.launch(progressID, market.Area(record.Area), endpoint, true)
}

// ResumeInterrupted resumes every job left in_progress or failed,
// typically at daemon startup. Jobs referencing endpoints that are no
// longer configured are skipped with a warning.
func (b *Backfiller) ResumeInterrupted(ctx context.Context) (int, error) {
	records, err := b.config.Database.ListResumableBackfillProgress()
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, record := range records {
		if _, err := b.ResumeBackfill(ctx, record.ID); err != nil {
			if errors.Is(err, ErrJobActive) {
				continue
			}
			b.logger.Warn(
				"failed to resume interrupted backfill",
				"progress_id", record.ID,
				"error", err,
			)
			continue
		}
		b.logger.Info(
			"resumed interrupted backfill",
			"progress_id", record.ID,
			"area", record.Area,
			"resume_point", record.ResumePoint,
		)
		resumed++
	}
	return resumed, nil
}

// GetStatus returns a read-only snapshot of a job.
func (b *Backfiller) GetStatus(
	ctx context.Context,
	progressID uint,
) (*models.BackfillProgress, error) {
	return b.config.Database.GetBackfillProgress(progressID)
}

// List returns all jobs, newest first.
func (b *Backfiller) List(
	ctx context.Context,
) ([]models.BackfillProgress, error) {
	return b.config.Database.ListBackfillProgress()
}

// Wait blocks until all running jobs have finished or stopped at a
// consistent resume point.
func (b *Backfiller) Wait() {
	b.jobWg.Wait()
}

// Stop cancels running jobs between chunks and waits for them to
// settle. Interrupted jobs stay in_progress at their last consistent
// resume point and are picked up by ResumeInterrupted on next start.
func (b *Backfiller) Stop() {
	b.rootCancel()
	b.jobWg.Wait()
}

func (b *Backfiller) launch(
	progressID uint,
	area market.Area,
	endpoint market.Endpoint,
	takeover bool,
) (*models.BackfillProgress, error) {
	if !b.markActive(progressID) {
		return nil, ErrJobActive
	}
	record, err := b.config.Database.ClaimBackfillProgress(
		progressID,
		takeover,
	)
	if err != nil {
		b.unmarkActive(progressID)
		return nil, err
	}
	if b.config.EventBus != nil {
		b.config.EventBus.Publish(
			event.BackfillStartedEventType,
			event.NewEvent(
				event.BackfillStartedEventType,
				event.BackfillStartedEvent{
					ProgressID: progressID,
					Area:       area,
					Endpoint:   endpoint.Name,
					Window: market.Interval{
						From: record.WindowStart,
						To:   record.WindowEnd,
					},
				},
			),
		)
	}
	b.jobWg.Add(1)
	go func() {
		defer b.jobWg.Done()
		defer b.unmarkActive(progressID)
		b.runJob(progressID, area, endpoint)
	}()
	// Return a fresh snapshot of the claimed record
	return b.config.Database.GetBackfillProgress(progressID)
}

// runJob executes the chunk loop for one job. Chunks are issued and
// ingested in non-decreasing time order; the resume point is advanced
// only after the chunk has committed, so it never regresses and never
// runs ahead of an uncommitted chunk.
func (b *Backfiller) runJob(
	progressID uint,
	area market.Area,
	endpoint market.Endpoint,
) {
	logger := b.logger.With(
		"progress_id", progressID,
		"area", string(area),
		"endpoint", endpoint.Name,
	)
	if b.metrics != nil {
		b.metrics.activeJobs.Inc()
		defer b.metrics.activeJobs.Dec()
	}
	// Queue on the cross-area gate; at most maxConcurrentAreas jobs
	// run at once
	if err := b.config.Scheduler.AcquireArea(b.rootCtx); err != nil {
		logger.Info("backfill cancelled while queued")
		return
	}
	defer b.config.Scheduler.ReleaseArea()
	started := b.nowFunc()
	// Re-read the record fresh inside this unit of work rather than
	// trusting anything captured before the suspension point
	record, err := b.config.Database.GetBackfillProgress(progressID)
	if err != nil {
		logger.Error("failed to load progress record", "error", err)
		return
	}
	from, to := record.Remaining()
	remaining := market.Interval{From: from, To: to}
	chunks := scheduler.Partition(remaining, endpoint.BackfillWindow)
	logger.Info(
		"backfill running",
		"window", remaining.String(),
		"chunks", len(chunks),
	)
	var totalPoints int64
	for _, chunk := range chunks {
		if b.rootCtx.Err() != nil {
			// Cancelled between chunks: leave the record at its last
			// consistent resume point
			logger.Info("backfill interrupted between chunks")
			return
		}
		points, err := b.collectWithRetry(logger, area, endpoint, chunk)
		if err != nil {
			b.failJob(logger, progressID, area, endpoint, err)
			return
		}
		if err := b.config.Database.AdvanceBackfillProgress(
			progressID,
			chunk.To,
			points,
		); err != nil {
			b.failJob(logger, progressID, area, endpoint, err)
			return
		}
		totalPoints += points
	}
	if err := b.config.Database.FinishBackfillProgress(
		progressID,
		models.BackfillStatusCompleted,
		"",
	); err != nil {
		logger.Error("failed to mark backfill completed", "error", err)
		return
	}
	if b.metrics != nil {
		b.metrics.jobsTotal.WithLabelValues("completed").Inc()
	}
	logger.Info(
		"backfill completed",
		"points", totalPoints,
		"duration", b.nowFunc().Sub(started).String(),
	)
	if b.config.EventBus != nil {
		b.config.EventBus.Publish(
			event.BackfillCompletedEventType,
			event.NewEvent(
				event.BackfillCompletedEventType,
				event.BackfillCompletedEvent{
					ProgressID:     progressID,
					Area:           area,
					Endpoint:       endpoint.Name,
					PointsIngested: totalPoints,
					Duration:       b.nowFunc().Sub(started),
				},
			),
		)
	}
}

// collectWithRetry dispatches one chunk, retrying transient failures
// with exponential backoff. Permanent and store failures abort
// immediately: retrying a bad request or a broken store buys nothing.
func (b *Backfiller) collectWithRetry(
	logger *slog.Logger,
	area market.Area,
	endpoint market.Endpoint,
	chunk scheduler.Chunk,
) (int64, error) {
	backoff := b.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		res := b.config.Scheduler.Collect(b.rootCtx, area, endpoint, chunk)
		if res.Success {
			return res.PointsIngested, nil
		}
		if b.rootCtx.Err() != nil {
			return 0, b.rootCtx.Err()
		}
		if !collector.IsTransient(res.Err) {
			return 0, res.Err
		}
		if attempt >= b.config.ChunkRetries {
			return 0, fmt.Errorf(
				"chunk %s failed after %d retries: %w",
				chunk.Interval,
				attempt,
				res.Err,
			)
		}
		logger.Warn(
			"transient chunk failure, retrying",
			"chunk", chunk.Interval.String(),
			"attempt", attempt+1,
			"backoff", backoff.String(),
			"error", res.Err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-b.rootCtx.Done():
			timer.Stop()
			return 0, b.rootCtx.Err()
		}
		backoff *= 2
	}
}

func (b *Backfiller) failJob(
	logger *slog.Logger,
	progressID uint,
	area market.Area,
	endpoint market.Endpoint,
	jobErr error,
) {
	if errors.Is(jobErr, context.Canceled) {
		// Shutdown, not failure: leave the record resumable
		logger.Info("backfill interrupted")
		return
	}
	logger.Error("backfill failed", "error", jobErr)
	if err := b.config.Database.FinishBackfillProgress(
		progressID,
		models.BackfillStatusFailed,
		jobErr.Error(),
	); err != nil {
		logger.Error("failed to mark backfill failed", "error", err)
	}
	if b.metrics != nil {
		b.metrics.jobsTotal.WithLabelValues("failed").Inc()
	}
	if b.config.EventBus != nil {
		record, err := b.config.Database.GetBackfillProgress(progressID)
		resumePoint := time.Time{}
		if err == nil {
			resumePoint = record.ResumePoint
		}
		b.config.EventBus.Publish(
			event.BackfillFailedEventType,
			event.NewEvent(
				event.BackfillFailedEventType,
				event.BackfillFailedEvent{
					ProgressID:  progressID,
					Area:        area,
					Endpoint:    endpoint.Name,
					ResumePoint: resumePoint,
					Err:         jobErr.Error(),
				},
			),
		)
	}
}

func (b *Backfiller) endpointFor(
	record *models.BackfillProgress,
) (market.Endpoint, error) {
	for _, endpoint := range b.config.Endpoints {
		if string(endpoint.DataType) == record.DataType &&
			string(endpoint.BusinessType) == record.BusinessType {
			return endpoint, nil
		}
	}
	return market.Endpoint{}, fmt.Errorf(
		"%w: data type %s, business type %s",
		ErrUnknownEndpoint,
		record.DataType,
		record.BusinessType,
	)
}

func (b *Backfiller) isActive(progressID uint) bool {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	_, ok := b.active[progressID]
	return ok
}

func (b *Backfiller) markActive(progressID uint) bool {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	if _, ok := b.active[progressID]; ok {
		return false
	}
	b.active[progressID] = struct{}{}
	return true
}

func (b *Backfiller) unmarkActive(progressID uint) {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	delete(b.active, progressID)
}
