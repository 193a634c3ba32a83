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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blinklabs-io/gridsync/backfill"
	"github.com/blinklabs-io/gridsync/database"
	"github.com/blinklabs-io/gridsync/database/models"
	"github.com/blinklabs-io/gridsync/gapfill"
	"github.com/blinklabs-io/gridsync/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBackfiller struct {
	startRecord  *models.BackfillProgress
	startErr     error
	resumeRecord *models.BackfillProgress
	resumeErr    error
	statusRecord *models.BackfillProgress
	statusErr    error
	listRecords  []models.BackfillProgress
	gaps         []backfill.CoverageGap
	gotLookback  int
	gotWindow    market.Interval
}

func (m *mockBackfiller) StartBackfill(
	ctx context.Context,
	area market.Area,
	endpoint market.Endpoint,
	window market.Interval,
) (*models.BackfillProgress, error) {
	m.gotWindow = window
	return m.startRecord, m.startErr
}

func (m *mockBackfiller) ResumeBackfill(
	ctx context.Context,
	progressID uint,
) (*models.BackfillProgress, error) {
	return m.resumeRecord, m.resumeErr
}

func (m *mockBackfiller) GetStatus(
	ctx context.Context,
	progressID uint,
) (*models.BackfillProgress, error) {
	return m.statusRecord, m.statusErr
}

func (m *mockBackfiller) List(
	ctx context.Context,
) ([]models.BackfillProgress, error) {
	return m.listRecords, nil
}

func (m *mockBackfiller) AnalyzeCoverage(
	ctx context.Context,
	areas []market.Area,
	endpoints []market.Endpoint,
	lookbackYears int,
) ([]backfill.CoverageGap, error) {
	m.gotLookback = lookbackYears
	return m.gaps, nil
}

type mockGapFiller struct {
	result gapfill.PassResult
	runs   int
}

func (m *mockGapFiller) RunPass(ctx context.Context) gapfill.PassResult {
	m.runs++
	return m.result
}

func testEndpoint() market.Endpoint {
	return market.Endpoint{
		Name:             "day-ahead-prices",
		DataType:         market.DataTypeDayAheadPrices,
		MinInterval:      time.Hour,
		MaxRequestWindow: 48 * time.Hour,
		GapFillWindow:    24 * time.Hour,
		BackfillWindow:   24 * time.Hour,
	}
}

func testRecord() *models.BackfillProgress {
	return &models.BackfillProgress{
		Area:        "10YCZ-CEPS-----N",
		DataType:    "A44",
		WindowStart: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:      models.BackfillStatusInProgress,
	}
}

func newTestApi(
	backfiller Backfiller,
	gapFiller GapFiller,
) *Api {
	return New(Config{
		Areas:     []market.Area{"10YCZ-CEPS-----N"},
		Endpoints: []market.Endpoint{testEndpoint()},
		Backfill:  backfiller,
		GapFill:   gapFiller,
	})
}

func doRequest(
	t *testing.T,
	a *Api,
	method string,
	path string,
	body any,
) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestApi(&mockBackfiller{}, &mockGapFiller{})
	rec := doRequest(t, a, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Healthy)
}

func TestStartBackfill(t *testing.T) {
	mock := &mockBackfiller{startRecord: testRecord()}
	a := newTestApi(mock, &mockGapFiller{})

	from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := doRequest(t, a, http.MethodPost, "/v1/backfill",
		StartBackfillRequest{
			Area:     "10YCZ-CEPS-----N",
			Endpoint: "day-ahead-prices",
			From:     from,
			To:       to,
		},
	)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, mock.gotWindow.From.Equal(from))
	assert.True(t, mock.gotWindow.To.Equal(to))

	var resp BackfillResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "in_progress", resp.Status)
	// A fresh job has no resume point yet
	assert.Nil(t, resp.ResumePoint)
}

func TestStartBackfillUnknownEndpoint(t *testing.T) {
	a := newTestApi(&mockBackfiller{}, &mockGapFiller{})
	rec := doRequest(t, a, http.MethodPost, "/v1/backfill",
		StartBackfillRequest{
			Area:     "area",
			Endpoint: "no-such-endpoint",
			From:     time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			To:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartBackfillInvalidWindow(t *testing.T) {
	a := newTestApi(&mockBackfiller{}, &mockGapFiller{})
	rec := doRequest(t, a, http.MethodPost, "/v1/backfill",
		StartBackfillRequest{
			Area:     "area",
			Endpoint: "day-ahead-prices",
			From:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			To:       time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartBackfillBadBody(t *testing.T) {
	a := newTestApi(&mockBackfiller{}, &mockGapFiller{})
	req := httptest.NewRequest(
		http.MethodPost,
		"/v1/backfill",
		bytes.NewReader([]byte("{not json")),
	)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResumeBackfillErrors(t *testing.T) {
	tests := []struct {
		name       string
		resumeErr  error
		wantStatus int
	}{
		{
			name:       "not found",
			resumeErr:  database.ErrProgressNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "already running",
			resumeErr:  backfill.ErrJobActive,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "claimed elsewhere",
			resumeErr:  database.ErrProgressClaimed,
			wantStatus: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestApi(
				&mockBackfiller{resumeErr: tt.resumeErr},
				&mockGapFiller{},
			)
			rec := doRequest(
				t, a, http.MethodPost, "/v1/backfill/7/resume", nil,
			)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestResumeBackfillSuccess(t *testing.T) {
	record := testRecord()
	record.ResumePoint = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	a := newTestApi(&mockBackfiller{resumeRecord: record}, &mockGapFiller{})

	rec := doRequest(t, a, http.MethodPost, "/v1/backfill/7/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp BackfillResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.ResumePoint)
	assert.True(t, resp.ResumePoint.Equal(record.ResumePoint))
}

func TestResumeBackfillInvalidID(t *testing.T) {
	a := newTestApi(&mockBackfiller{}, &mockGapFiller{})
	rec := doRequest(
		t, a, http.MethodPost, "/v1/backfill/banana/resume", nil,
	)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBackfillNotFound(t *testing.T) {
	a := newTestApi(
		&mockBackfiller{statusErr: database.ErrProgressNotFound},
		&mockGapFiller{},
	)
	rec := doRequest(t, a, http.MethodGet, "/v1/backfill/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBackfills(t *testing.T) {
	a := newTestApi(
		&mockBackfiller{
			listRecords: []models.BackfillProgress{
				*testRecord(),
				*testRecord(),
			},
		},
		&mockGapFiller{},
	)
	rec := doRequest(t, a, http.MethodGet, "/v1/backfill", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp []BackfillResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)
}

func TestCoverage(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mock := &mockBackfiller{
		gaps: []backfill.CoverageGap{
			{
				Area:     "10YCZ-CEPS-----N",
				Endpoint: "day-ahead-prices",
				Kind:     backfill.CoverageGapTail,
				Missing: market.Interval{
					From: now.Add(-2 * time.Hour),
					To:   now,
				},
			},
		},
	}
	a := newTestApi(mock, &mockGapFiller{})

	rec := doRequest(t, a, http.MethodGet, "/v1/coverage", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, mock.gotLookback)

	var resp []CoverageGapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "tail", resp[0].Kind)

	rec = doRequest(
		t, a, http.MethodGet, "/v1/coverage?lookback_years=5", nil,
	)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, mock.gotLookback)

	rec = doRequest(
		t, a, http.MethodGet, "/v1/coverage?lookback_years=zero", nil,
	)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunGapFill(t *testing.T) {
	mock := &mockGapFiller{
		result: gapfill.PassResult{
			ChunksDispatched: 4,
			PointsIngested:   96,
			Skipped:          1,
		},
	}
	a := newTestApi(&mockBackfiller{}, mock)

	rec := doRequest(t, a, http.MethodPost, "/v1/gapfill/run", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, mock.runs)

	var resp GapFillRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.ChunksDispatched)
	assert.Equal(t, int64(96), resp.PointsIngested)
	assert.Equal(t, 1, resp.Skipped)
}

func TestStartStop(t *testing.T) {
	a := newTestApi(&mockBackfiller{}, &mockGapFiller{})
	a.config.ListenAddress = "127.0.0.1:0"

	require.NoError(t, a.Start(context.Background()))
	// Double start is rejected
	assert.Error(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
	// Stop after stop is a no-op
	require.NoError(t, a.Stop(context.Background()))
}
