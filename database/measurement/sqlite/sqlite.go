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

// Package sqlite is a SQLite-backed measurement store. It is the
// default backend and doubles as the in-memory store for tests.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/gridsync/market"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Measurement is the persisted measurement row. The composite unique
// index over (timestamp, area, data_type, business_type) is the
// natural key; the source-local series id is metadata only.
type Measurement struct {
	ID              uint      `gorm:"primarykey"`
	Timestamp       time.Time `gorm:"uniqueIndex:idx_measurement_key;not null"`
	Area            string    `gorm:"uniqueIndex:idx_measurement_key;size:32;not null"`
	DataType        string    `gorm:"uniqueIndex:idx_measurement_key;size:8;not null"`
	BusinessType    string    `gorm:"uniqueIndex:idx_measurement_key;size:8"`
	Quantity        float64
	Unit            string `gorm:"size:32"`
	DocumentID      string `gorm:"size:64"`
	SeriesID        string `gorm:"size:64"`
	ResolutionSecs  int64
	Revision        int
	PeriodStart     time.Time
	PeriodEnd       time.Time
	IngestedAt      time.Time
}

func (Measurement) TableName() string {
	return "measurements"
}

// MeasurementStoreSqlite stores measurements in a SQLite database via
// GORM. Uses an in-memory database when dataDir is empty.
type MeasurementStoreSqlite struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates a SQLite measurement store.
func New(
	dataDir string,
	logger *slog.Logger,
) (*MeasurementStoreSqlite, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var db *gorm.DB
	var err error
	if dataDir == "" {
		db, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dbPath := filepath.Join(dataDir, "measurements.sqlite")
		// WAL journal mode, disable sync on write
		connOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)"
		db, err = gorm.Open(
			sqlite.Open(fmt.Sprintf("file:%s?%s", dbPath, connOpts)),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	s := &MeasurementStoreSqlite{
		db:     db,
		logger: logger,
	}
	if err := s.db.AutoMigrate(&Measurement{}); err != nil {
		return nil, fmt.Errorf("migrate measurements: %w", err)
	}
	return s, nil
}

func (s *MeasurementStoreSqlite) LatestTimestamp(
	ctx context.Context,
	area market.Area,
	dataType market.DataType,
	businessType market.BusinessType,
) (time.Time, bool, error) {
	return s.boundaryTimestamp(ctx, area, dataType, businessType, "DESC")
}

func (s *MeasurementStoreSqlite) EarliestTimestamp(
	ctx context.Context,
	area market.Area,
	dataType market.DataType,
	businessType market.BusinessType,
) (time.Time, bool, error) {
	return s.boundaryTimestamp(ctx, area, dataType, businessType, "ASC")
}

func (s *MeasurementStoreSqlite) boundaryTimestamp(
	ctx context.Context,
	area market.Area,
	dataType market.DataType,
	businessType market.BusinessType,
	order string,
) (time.Time, bool, error) {
	var m Measurement
	result := s.db.WithContext(ctx).
		Where(
			"area = ? AND data_type = ? AND business_type = ?",
			string(area),
			string(dataType),
			string(businessType),
		).
		Order("timestamp " + order).
		First(&m)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf(
			"query boundary timestamp: %w",
			result.Error,
		)
	}
	return m.Timestamp.UTC(), true, nil
}

// UpsertBatch inserts records, overwriting metadata columns on natural
// key conflict (last-write-wins).
func (s *MeasurementStoreSqlite) UpsertBatch(
	ctx context.Context,
	records []market.Record,
) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]Measurement, 0, len(records))
	for _, r := range records {
		rows = append(rows, Measurement{
			Timestamp:      r.Timestamp.UTC(),
			Area:           string(r.Area),
			DataType:       string(r.DataType),
			BusinessType:   string(r.BusinessType),
			Quantity:       r.Quantity,
			Unit:           r.Unit,
			DocumentID:     r.DocumentID,
			SeriesID:       r.SeriesID,
			ResolutionSecs: int64(r.Resolution / time.Second),
			Revision:       r.Revision,
			PeriodStart:    r.PeriodStart.UTC(),
			PeriodEnd:      r.PeriodEnd.UTC(),
			IngestedAt:     now,
		})
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "timestamp"},
				{Name: "area"},
				{Name: "data_type"},
				{Name: "business_type"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"quantity",
				"unit",
				"document_id",
				"series_id",
				"resolution_secs",
				"revision",
				"period_start",
				"period_end",
				"ingested_at",
			}),
		}).
		CreateInBatches(&rows, 500)
	if result.Error != nil {
		return 0, fmt.Errorf("upsert measurements: %w", result.Error)
	}
	return int64(len(rows)), nil
}

func (s *MeasurementStoreSqlite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
