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

package event

import (
	"time"

	"github.com/blinklabs-io/gridsync/market"
)

const (
	ChunkIngestedEventType     EventType = "ingest.chunk"
	GapDetectedEventType       EventType = "ingest.gap"
	BackfillStartedEventType   EventType = "backfill.started"
	BackfillCompletedEventType EventType = "backfill.completed"
	BackfillFailedEventType    EventType = "backfill.failed"
)

// ChunkIngestedEvent is published after a chunk has been fetched,
// transformed, and upserted.
type ChunkIngestedEvent struct {
	Area           market.Area
	Endpoint       string
	Chunk          market.Interval
	PointsIngested int64
}

// GapDetectedEvent is published when a gap-fill pass finds missing
// coverage for a stream.
type GapDetectedEvent struct {
	Area     market.Area
	Endpoint string
	Gap      market.Interval
}

// BackfillStartedEvent is published when a backfill job transitions to
// in_progress.
type BackfillStartedEvent struct {
	ProgressID uint
	Area       market.Area
	Endpoint   string
	Window     market.Interval
}

// BackfillCompletedEvent is published when a backfill job completes.
type BackfillCompletedEvent struct {
	ProgressID     uint
	Area           market.Area
	Endpoint       string
	PointsIngested int64
	Duration       time.Duration
}

// BackfillFailedEvent is published when a backfill job is marked
// failed.
type BackfillFailedEvent struct {
	ProgressID  uint
	Area        market.Area
	Endpoint    string
	ResumePoint time.Time
	Err         string
}
