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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/blinklabs-io/gridsync/backfill"
	"github.com/blinklabs-io/gridsync/database"
	"github.com/blinklabs-io/gridsync/market"
)

const defaultCoverageLookbackYears = 3

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func (a *Api) handleHealth(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, HealthResponse{Healthy: true})
}

func (a *Api) handleStartBackfill(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req StartBackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	endpoint, ok := a.endpointByName(req.Endpoint)
	if !ok {
		writeError(
			w,
			http.StatusBadRequest,
			"unknown endpoint: "+req.Endpoint,
		)
		return
	}
	window, err := market.NewInterval(req.From, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := a.config.Backfill.StartBackfill(
		r.Context(),
		market.Area(req.Area),
		endpoint,
		window,
	)
	if err != nil {
		a.logger.Error("failed to start backfill", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newBackfillResponse(record))
}

func (a *Api) handleResumeBackfill(
	w http.ResponseWriter,
	r *http.Request,
) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid backfill id")
		return
	}
	record, err := a.config.Backfill.ResumeBackfill(
		r.Context(),
		uint(id),
	)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrProgressNotFound):
			writeError(w, http.StatusNotFound, "backfill not found")
		case errors.Is(err, backfill.ErrJobActive),
			errors.Is(err, database.ErrProgressClaimed):
			writeError(w, http.StatusConflict, err.Error())
		default:
			a.logger.Error("failed to resume backfill", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, newBackfillResponse(record))
}

func (a *Api) handleGetBackfill(
	w http.ResponseWriter,
	r *http.Request,
) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid backfill id")
		return
	}
	record, err := a.config.Backfill.GetStatus(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, database.ErrProgressNotFound) {
			writeError(w, http.StatusNotFound, "backfill not found")
			return
		}
		a.logger.Error("failed to get backfill", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newBackfillResponse(record))
}

func (a *Api) handleListBackfills(
	w http.ResponseWriter,
	r *http.Request,
) {
	records, err := a.config.Backfill.List(r.Context())
	if err != nil {
		a.logger.Error("failed to list backfills", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]BackfillResponse, 0, len(records))
	for i := range records {
		resp = append(resp, newBackfillResponse(&records[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Api) handleCoverage(
	w http.ResponseWriter,
	r *http.Request,
) {
	lookbackYears := defaultCoverageLookbackYears
	if raw := r.URL.Query().Get("lookback_years"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid lookback_years")
			return
		}
		lookbackYears = parsed
	}
	gaps, err := a.config.Backfill.AnalyzeCoverage(
		r.Context(),
		a.config.Areas,
		a.config.Endpoints,
		lookbackYears,
	)
	if err != nil {
		a.logger.Error("failed to analyze coverage", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]CoverageGapResponse, 0, len(gaps))
	for _, gap := range gaps {
		resp = append(resp, CoverageGapResponse{
			Area:     string(gap.Area),
			Endpoint: gap.Endpoint,
			Kind:     string(gap.Kind),
			From:     gap.Missing.From,
			To:       gap.Missing.To,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Api) handleRunGapFill(
	w http.ResponseWriter,
	r *http.Request,
) {
	result := a.config.GapFill.RunPass(r.Context())
	writeJSON(w, http.StatusOK, GapFillRunResponse{
		ChunksDispatched: result.ChunksDispatched,
		PointsIngested:   result.PointsIngested,
		Failures:         result.Failures,
		Skipped:          result.Skipped,
		BackfillsStarted: result.BackfillsStarted,
	})
}

func (a *Api) endpointByName(name string) (market.Endpoint, bool) {
	for _, endpoint := range a.config.Endpoints {
		if endpoint.Name == name {
			return endpoint, true
		}
	}
	return market.Endpoint{}, false
}
