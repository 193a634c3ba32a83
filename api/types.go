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

package api

import (
	"time"

	"github.com/blinklabs-io/gridsync/database/models"
)

// ErrorResponse is the JSON error envelope used by every handler.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Healthy bool `json:"healthy"`
}

// StartBackfillRequest is the body of POST /v1/backfill.
type StartBackfillRequest struct {
	Area     string    `json:"area"`
	Endpoint string    `json:"endpoint"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// BackfillResponse is the JSON view of a backfill progress record.
type BackfillResponse struct {
	ID             uint       `json:"id"`
	Area           string     `json:"area"`
	DataType       string     `json:"data_type"`
	BusinessType   string     `json:"business_type"`
	WindowStart    time.Time  `json:"window_start"`
	WindowEnd      time.Time  `json:"window_end"`
	ResumePoint    *time.Time `json:"resume_point,omitempty"`
	Status         string     `json:"status"`
	PointsIngested int64      `json:"points_ingested"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func newBackfillResponse(
	record *models.BackfillProgress,
) BackfillResponse {
	resp := BackfillResponse{
		ID:             record.ID,
		Area:           record.Area,
		DataType:       record.DataType,
		BusinessType:   record.BusinessType,
		WindowStart:    record.WindowStart,
		WindowEnd:      record.WindowEnd,
		Status:         string(record.Status),
		PointsIngested: record.PointsIngested,
		LastError:      record.LastError,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
		CompletedAt:    record.CompletedAt,
	}
	if !record.ResumePoint.IsZero() {
		resumePoint := record.ResumePoint
		resp.ResumePoint = &resumePoint
	}
	return resp
}

// CoverageGapResponse is one missing sub-window in GET /v1/coverage.
type CoverageGapResponse struct {
	Area     string    `json:"area"`
	Endpoint string    `json:"endpoint"`
	Kind     string    `json:"kind"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// GapFillRunResponse summarizes POST /v1/gapfill/run.
type GapFillRunResponse struct {
	ChunksDispatched int   `json:"chunks_dispatched"`
	PointsIngested   int64 `json:"points_ingested"`
	Failures         int   `json:"failures"`
	Skipped          int   `json:"skipped"`
	BackfillsStarted int   `json:"backfills_started"`
}
