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

package gridsync

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/gridsync/database"
	"github.com/blinklabs-io/gridsync/market"
	"github.com/prometheus/client_golang/prometheus"
)

type ClickhouseConfig = database.ClickhouseConfig

type Config struct {
	promRegistry       prometheus.Registerer
	logger             *slog.Logger
	dataDir            string
	measurementPlugin  string
	clickhouse         database.ClickhouseConfig
	upstreamBaseUrl    string
	securityToken      string
	requestTimeout     time.Duration
	areas              []market.Area
	endpoints          []market.Endpoint
	apiListenAddress   string
	rateLimitDelay     time.Duration
	maxConcurrentAreas int
	gapFillInterval    time.Duration
	defaultLookback    time.Duration
	chunkRetries       int
	retryBackoff       time.Duration
	tracing            bool
	tracingStdout      bool
	shutdownTimeout    time.Duration
}

func (c *Config) validate() error {
	if c.upstreamBaseUrl == "" {
		return errors.New("upstream base URL is required")
	}
	if c.securityToken == "" {
		return errors.New("security token is required")
	}
	if len(c.areas) == 0 {
		return errors.New("at least one area is required")
	}
	if len(c.endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	for _, endpoint := range c.endpoints {
		if err := endpoint.Validate(); err != nil {
			return fmt.Errorf("invalid endpoint config: %w", err)
		}
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the
// ingestor config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new gridsync config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDatabasePath specifies the persistent data directory. An empty
// value uses transient in-memory storage.
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithMeasurementPlugin selects the measurement store backend
// ("sqlite" or "clickhouse")
func WithMeasurementPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.measurementPlugin = plugin
	}
}

// WithClickhouse specifies the ClickHouse connection parameters used
// when the clickhouse measurement plugin is selected
func WithClickhouse(cfg database.ClickhouseConfig) ConfigOptionFunc {
	return func(c *Config) {
		c.clickhouse = cfg
	}
}

// WithUpstreamBaseUrl specifies the upstream market API base URL
func WithUpstreamBaseUrl(baseUrl string) ConfigOptionFunc {
	return func(c *Config) {
		c.upstreamBaseUrl = baseUrl
	}
}

// WithSecurityToken specifies the upstream API security token
func WithSecurityToken(token string) ConfigOptionFunc {
	return func(c *Config) {
		c.securityToken = token
	}
}

// WithRequestTimeout specifies the per-request upstream timeout
func WithRequestTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.requestTimeout = timeout
	}
}

// WithAreas specifies the market areas to collect
func WithAreas(areas ...market.Area) ConfigOptionFunc {
	return func(c *Config) {
		c.areas = areas
	}
}

// WithEndpoints specifies the endpoint descriptors to collect
func WithEndpoints(endpoints ...market.Endpoint) ConfigOptionFunc {
	return func(c *Config) {
		c.endpoints = endpoints
	}
}

// WithApiListenAddress specifies the operator API listen address
// (empty = disabled)
func WithApiListenAddress(address string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = address
	}
}

// WithRateLimitDelay specifies the minimum delay between consecutive
// upstream requests for the same area
func WithRateLimitDelay(delay time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.rateLimitDelay = delay
	}
}

// WithMaxConcurrentAreas bounds cross-area collection concurrency
func WithMaxConcurrentAreas(limit int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxConcurrentAreas = limit
	}
}

// WithGapFillInterval specifies how often the periodic gap-fill pass
// runs (0 = disabled)
func WithGapFillInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.gapFillInterval = interval
	}
}

// WithDefaultLookback specifies the historical depth requested when a
// stream with no stored data is routed to backfill
func WithDefaultLookback(lookback time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.defaultLookback = lookback
	}
}

// WithChunkRetries bounds transient-failure retries per backfill chunk
func WithChunkRetries(retries int) ConfigOptionFunc {
	return func(c *Config) {
		c.chunkRetries = retries
	}
}

// WithRetryBackoff specifies the base backoff delay between backfill
// chunk retries
func WithRetryBackoff(backoff time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.retryBackoff = backoff
	}
}

func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables writing traces to stdout (for debugging)
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
