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

// Package models contains the persisted database models.
package models

import "time"

// BackfillStatus is the lifecycle state of a backfill job.
type BackfillStatus string

const (
	BackfillStatusPending    BackfillStatus = "pending"
	BackfillStatusInProgress BackfillStatus = "in_progress"
	BackfillStatusCompleted  BackfillStatus = "completed"
	BackfillStatusFailed     BackfillStatus = "failed"
)

// CanTransitionTo reports whether the state machine allows moving from
// s to next. The only re-entry transition is failed -> in_progress
// (via resume); completed is terminal.
func (s BackfillStatus) CanTransitionTo(next BackfillStatus) bool {
	switch s {
	case BackfillStatusPending:
		return next == BackfillStatusInProgress
	case BackfillStatusInProgress:
		return next == BackfillStatusCompleted ||
			next == BackfillStatusFailed
	case BackfillStatusFailed:
		return next == BackfillStatusInProgress
	case BackfillStatusCompleted:
		return false
	default:
		return false
	}
}

// BackfillProgress tracks one historical backfill job for a single
// (area, endpoint, requested window). It is the durable audit trail
// and resume anchor: ResumePoint is the boundary up to which chunks
// have been durably ingested, and is never advanced before every
// earlier chunk in the job has committed. Rows are never deleted
// automatically.
type BackfillProgress struct {
	ID             uint           `gorm:"primarykey"`
	Area           string         `gorm:"index:idx_backfill_stream;size:32;not null"`
	DataType       string         `gorm:"index:idx_backfill_stream;size:8;not null"`
	BusinessType   string         `gorm:"index:idx_backfill_stream;size:8"`
	WindowStart    time.Time      `gorm:"not null"`
	WindowEnd      time.Time      `gorm:"not null"`
	ResumePoint    time.Time      // zero until the first chunk commits
	Status         BackfillStatus `gorm:"index;size:16;not null"`
	PointsIngested int64
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func (BackfillProgress) TableName() string {
	return "backfill_progress"
}

// Remaining returns the sub-window still to be ingested, honoring the
// resume point when one is set.
func (p *BackfillProgress) Remaining() (from, to time.Time) {
	from = p.WindowStart
	if !p.ResumePoint.IsZero() && p.ResumePoint.After(from) {
		from = p.ResumePoint
	}
	return from, p.WindowEnd
}

// MigrateModels is the list of models auto-migrated at startup.
var MigrateModels = []any{
	&BackfillProgress{},
}
