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

// Package clickhouse is a ClickHouse-backed measurement store for
// production volumes. Idempotence comes from a ReplacingMergeTree
// ordered by the natural key plus versioned inserts: re-upserting the
// same instants collapses to the latest version at merge time.
package clickhouse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/blinklabs-io/gridsync/market"
)

const tableName = "measurements"

// Config holds ClickHouse connection options.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Logger   *slog.Logger
}

// MeasurementStoreClickhouse stores measurements in ClickHouse.
type MeasurementStoreClickhouse struct {
	conn     clickhouse.Conn
	database string
	logger   *slog.Logger
}

// New opens a ClickHouse connection and ensures the measurement
// schema exists.
func New(cfg Config) (*MeasurementStoreClickhouse, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	s := &MeasurementStoreClickhouse{
		conn:     conn,
		database: cfg.Database,
		logger:   logger,
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MeasurementStoreClickhouse) ensureSchema(
	ctx context.Context,
) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			ts DateTime64(3, 'UTC'),
			area LowCardinality(String),
			data_type LowCardinality(String),
			business_type LowCardinality(String),
			quantity Float64,
			unit LowCardinality(String),
			document_id String,
			series_id String,
			resolution_secs Int64,
			revision Int32,
			period_start DateTime64(3, 'UTC'),
			period_end DateTime64(3, 'UTC'),
			ingested_at DateTime64(3, 'UTC'),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (area, data_type, business_type, ts)
	`, s.database, tableName)
	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create measurements table: %w", err)
	}
	return nil
}

func (s *MeasurementStoreClickhouse) LatestTimestamp(
	ctx context.Context,
	area market.Area,
	dataType market.DataType,
	businessType market.BusinessType,
) (time.Time, bool, error) {
	return s.boundaryTimestamp(ctx, area, dataType, businessType, "max")
}

func (s *MeasurementStoreClickhouse) EarliestTimestamp(
	ctx context.Context,
	area market.Area,
	dataType market.DataType,
	businessType market.BusinessType,
) (time.Time, bool, error) {
	return s.boundaryTimestamp(ctx, area, dataType, businessType, "min")
}

func (s *MeasurementStoreClickhouse) boundaryTimestamp(
	ctx context.Context,
	area market.Area,
	dataType market.DataType,
	businessType market.BusinessType,
	agg string,
) (time.Time, bool, error) {
	query := fmt.Sprintf(
		"SELECT count(), %s(ts) FROM %s.%s WHERE area = ? AND data_type = ? AND business_type = ?",
		agg,
		s.database,
		tableName,
	)
	var count uint64
	var ts time.Time
	err := s.conn.QueryRow(
		ctx,
		query,
		string(area),
		string(dataType),
		string(businessType),
	).Scan(&count, &ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf(
			"query boundary timestamp: %w",
			err,
		)
	}
	if count == 0 {
		return time.Time{}, false, nil
	}
	return ts.UTC(), true, nil
}

// UpsertBatch appends versioned rows in a single batch with insert
// deduplication enabled. The ReplacingMergeTree keeps the row with the
// highest version per key, giving last-write-wins semantics.
func (s *MeasurementStoreClickhouse) UpsertBatch(
	ctx context.Context,
	records []market.Record,
) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	batch, err := s.conn.PrepareBatch(
		ctx,
		fmt.Sprintf(
			"INSERT INTO %s.%s SETTINGS insert_deduplicate=1",
			s.database,
			tableName,
		),
	)
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}
	now := time.Now().UTC()
	// Same version for the whole batch; a re-processed chunk gets a
	// newer version and wins at merge time
	version := uint64(now.UnixNano()) // #nosec G115
	for _, r := range records {
		if err := batch.Append(
			r.Timestamp.UTC(),
			string(r.Area),
			string(r.DataType),
			string(r.BusinessType),
			r.Quantity,
			r.Unit,
			r.DocumentID,
			r.SeriesID,
			int64(r.Resolution/time.Second),
			int32(r.Revision), // #nosec G115
			r.PeriodStart.UTC(),
			r.PeriodEnd.UTC(),
			now,
			version,
		); err != nil {
			return 0, fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("batch send: %w", err)
	}
	return int64(len(records)), nil
}

func (s *MeasurementStoreClickhouse) Close() error {
	return s.conn.Close()
}
