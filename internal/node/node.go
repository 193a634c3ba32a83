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

// Package node wires the config file to a running ingestion engine:
// metrics listener, signal handling, and graceful shutdown.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/gridsync"
	"github.com/blinklabs-io/gridsync/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")

	endpoints, err := cfg.MarketEndpoints()
	if err != nil {
		return fmt.Errorf("invalid endpoint config: %w", err)
	}

	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	requestTimeout, err := parseOptionalDuration(
		cfg.RequestTimeout, "request timeout",
	)
	if err != nil {
		return err
	}
	rateLimitDelay, err := parseOptionalDuration(
		cfg.RateLimitDelay, "rate limit delay",
	)
	if err != nil {
		return err
	}
	gapFillInterval, err := parseOptionalDuration(
		cfg.GapFillInterval, "gap-fill interval",
	)
	if err != nil {
		return err
	}
	defaultLookback, err := parseOptionalDuration(
		cfg.DefaultLookback, "default lookback",
	)
	if err != nil {
		return err
	}
	retryBackoff, err := parseOptionalDuration(
		cfg.RetryBackoff, "retry backoff",
	)
	if err != nil {
		return err
	}

	apiListenAddress := ""
	if cfg.ApiPort > 0 {
		apiListenAddress = fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ApiPort)
	}

	ingestor, err := gridsync.New(
		gridsync.NewConfig(
			gridsync.WithLogger(logger),
			gridsync.WithDatabasePath(cfg.DatabasePath),
			gridsync.WithMeasurementPlugin(cfg.MeasurementPlugin),
			gridsync.WithClickhouse(gridsync.ClickhouseConfig{
				Addr:     cfg.Clickhouse.Addr,
				Database: cfg.Clickhouse.Database,
				Username: cfg.Clickhouse.Username,
				Password: cfg.Clickhouse.Password,
			}),
			gridsync.WithUpstreamBaseUrl(cfg.UpstreamUrl),
			gridsync.WithSecurityToken(cfg.SecurityToken),
			gridsync.WithRequestTimeout(requestTimeout),
			gridsync.WithAreas(cfg.MarketAreas()...),
			gridsync.WithEndpoints(endpoints...),
			gridsync.WithApiListenAddress(apiListenAddress),
			gridsync.WithRateLimitDelay(rateLimitDelay),
			gridsync.WithMaxConcurrentAreas(cfg.MaxConcurrentAreas),
			gridsync.WithGapFillInterval(gapFillInterval),
			gridsync.WithDefaultLookback(defaultLookback),
			gridsync.WithChunkRetries(cfg.ChunkRetries),
			gridsync.WithRetryBackoff(retryBackoff),
			gridsync.WithShutdownTimeout(shutdownTimeout),
			gridsync.WithTracing(cfg.Tracing),
			gridsync.WithTracingStdout(cfg.TracingStdout),
			// Enable metrics with default prometheus registry
			gridsync.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		),
	)
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		"node",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run ingestor in goroutine
	errChan := make(chan error, 1)
	go func() {
		//nolint:contextcheck
		err := ingestor.Run(signalCtx)
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")

		// Shutdown metrics server
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}

		// Shutdown ingestor
		if err := ingestor.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil

	case err := <-errChan:
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error(
				"metrics server shutdown error",
				"error", shutdownErr,
			)
		}
		if stopErr := ingestor.Stop(); stopErr != nil {
			logger.Error("shutdown errors occurred", "error", stopErr)
		}
		return err
	}
}

func parseOptionalDuration(
	value string,
	name string,
) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return parsed, nil
}
