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

// Package database provides persistent storage for the ingestion
// engine: the backfill progress store (owned), the measurement store
// (selected backend), and the raw document archive.
package database

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blinklabs-io/gridsync/database/archive"
	"github.com/blinklabs-io/gridsync/database/measurement"
	"github.com/blinklabs-io/gridsync/database/measurement/clickhouse"
	msqlite "github.com/blinklabs-io/gridsync/database/measurement/sqlite"
	"github.com/blinklabs-io/gridsync/database/models"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const (
	MeasurementPluginSqlite     = "sqlite"
	MeasurementPluginClickhouse = "clickhouse"
)

type ClickhouseConfig = clickhouse.Config

// Config describes the database setup.
type Config struct {
	// DataDir is the persistent data directory. Empty means
	// everything runs in memory, which is useful for testing.
	DataDir string
	// MeasurementPlugin selects the measurement backend ("sqlite" or
	// "clickhouse"). Defaults to sqlite.
	MeasurementPlugin string
	// Clickhouse holds connection options when the clickhouse
	// measurement backend is selected.
	Clickhouse   clickhouse.Config
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// Database bundles the progress store, the measurement store, and the
// raw document archive.
type Database struct {
	progressDb   *gorm.DB
	measurements measurement.Store
	archive      *archive.Store
	logger       *slog.Logger
	promRegistry prometheus.Registerer
	dataDir      string
}

// New creates the database per the given config.
func New(cfg *Config) (*Database, error) {
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	progressDb, err := openProgressDb(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	db := &Database{
		progressDb:   progressDb,
		logger:       logger,
		promRegistry: cfg.PromRegistry,
		dataDir:      cfg.DataDir,
	}
	// Configure tracing for GORM
	if err := progressDb.Use(
		tracing.NewPlugin(tracing.WithoutMetrics()),
	); err != nil {
		return nil, err
	}
	for _, model := range models.MigrateModels {
		db.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := progressDb.AutoMigrate(model); err != nil {
			return nil, err
		}
	}
	switch cfg.MeasurementPlugin {
	case MeasurementPluginClickhouse:
		chCfg := cfg.Clickhouse
		chCfg.Logger = logger
		store, err := clickhouse.New(chCfg)
		if err != nil {
			return nil, fmt.Errorf("open measurement store: %w", err)
		}
		db.measurements = store
	case MeasurementPluginSqlite, "":
		store, err := msqlite.New(cfg.DataDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open measurement store: %w", err)
		}
		db.measurements = store
	default:
		return nil, fmt.Errorf(
			"unknown measurement plugin: %s",
			cfg.MeasurementPlugin,
		)
	}
	arc, err := archive.New(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open document archive: %w", err)
	}
	db.archive = arc
	return db, nil
}

func openProgressDb(
	dataDir string,
	logger *slog.Logger,
) (*gorm.DB, error) {
	if dataDir == "" {
		// In-memory database when no data directory is specified.
		// cache=shared allows multiple connections to share it
		return gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
	}
	if _, err := os.Stat(dataDir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read data dir: %w", err)
		}
		if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	dbPath := filepath.Join(dataDir, "progress.sqlite")
	// WAL journal mode, disable sync on write
	connOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)"
	return gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?%s", dbPath, connOpts)),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
}

// Measurements returns the measurement store.
func (d *Database) Measurements() measurement.Store {
	return d.measurements
}

// Archive returns the raw document archive.
func (d *Database) Archive() *archive.Store {
	return d.archive
}

// Close shuts down all stores.
func (d *Database) Close() error {
	var err error
	if d.measurements != nil {
		err = errors.Join(err, d.measurements.Close())
	}
	if d.archive != nil {
		err = errors.Join(err, d.archive.Close())
	}
	if d.progressDb != nil {
		if sqlDB, dbErr := d.progressDb.DB(); dbErr == nil {
			err = errors.Join(err, sqlDB.Close())
		}
	}
	return err
}
