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

// Package measurement defines the time-series measurement store
// boundary consumed by the orchestrators.
package measurement

import (
	"context"
	"time"

	"github.com/blinklabs-io/gridsync/market"
)

// Store holds measurements keyed by
// (timestamp, area, data_type, business_type).
//
// UpsertBatch is idempotent: re-upserting the same instants stores no
// duplicates, and metadata (quantity, unit, document id, revision) is
// overwritten last-write-wins by processing order. This makes
// re-processing a chunk after a crash safe without any sub-chunk
// progress tracking.
type Store interface {
	// LatestTimestamp returns the newest stored timestamp for the
	// stream, or ok=false when the stream has no data.
	LatestTimestamp(
		ctx context.Context,
		area market.Area,
		dataType market.DataType,
		businessType market.BusinessType,
	) (ts time.Time, ok bool, err error)
	// EarliestTimestamp returns the oldest stored timestamp for the
	// stream, or ok=false when the stream has no data.
	EarliestTimestamp(
		ctx context.Context,
		area market.Area,
		dataType market.DataType,
		businessType market.BusinessType,
	) (ts time.Time, ok bool, err error)
	// UpsertBatch inserts-or-overwrites the given records and returns
	// the number of records processed.
	UpsertBatch(
		ctx context.Context,
		records []market.Record,
	) (int64, error)
	Close() error
}
