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

package database

import (
	"testing"
	"time"

	"github.com/blinklabs-io/gridsync/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := New(&Config{
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		//nolint:errcheck
		db.Close()
	})
	return db
}

func newTestProgress(t *testing.T, db *Database) *models.BackfillProgress {
	t.Helper()
	record := &models.BackfillProgress{
		Area:        "10YCZ-CEPS-----N",
		DataType:    "A44",
		WindowStart: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.CreateBackfillProgress(record))
	return record
}

func TestCreateBackfillProgressForcesPending(t *testing.T) {
	db := newTestDatabase(t)
	record := &models.BackfillProgress{
		Area:        "area",
		DataType:    "A44",
		WindowStart: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:      models.BackfillStatusCompleted,
	}
	require.NoError(t, db.CreateBackfillProgress(record))

	loaded, err := db.GetBackfillProgress(record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackfillStatusPending, loaded.Status)
}

func TestGetBackfillProgressNotFound(t *testing.T) {
	db := newTestDatabase(t)
	_, err := db.GetBackfillProgress(9999)
	assert.ErrorIs(t, err, ErrProgressNotFound)
}

func TestClaimBackfillProgress(t *testing.T) {
	db := newTestDatabase(t)
	record := newTestProgress(t, db)

	claimed, err := db.ClaimBackfillProgress(record.ID, false)
	require.NoError(t, err)
	assert.Equal(t, record.ID, claimed.ID)

	loaded, err := db.GetBackfillProgress(record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackfillStatusInProgress, loaded.Status)

	// A second claim without takeover is rejected: the in_progress
	// status is a lease
	_, err = db.ClaimBackfillProgress(record.ID, false)
	assert.ErrorIs(t, err, ErrProgressClaimed)

	// Takeover is allowed (startup recovery)
	_, err = db.ClaimBackfillProgress(record.ID, true)
	require.NoError(t, err)
}

func TestClaimCompletedRejected(t *testing.T) {
	db := newTestDatabase(t)
	record := newTestProgress(t, db)

	_, err := db.ClaimBackfillProgress(record.ID, false)
	require.NoError(t, err)
	require.NoError(t, db.FinishBackfillProgress(
		record.ID,
		models.BackfillStatusCompleted,
		"",
	))

	// Completed is terminal, even with takeover
	_, err = db.ClaimBackfillProgress(record.ID, true)
	assert.ErrorIs(t, err, ErrProgressCompleted)
}

func TestClaimFailedAllowed(t *testing.T) {
	db := newTestDatabase(t)
	record := newTestProgress(t, db)

	_, err := db.ClaimBackfillProgress(record.ID, false)
	require.NoError(t, err)
	require.NoError(t, db.FinishBackfillProgress(
		record.ID,
		models.BackfillStatusFailed,
		"upstream exploded",
	))

	// failed -> in_progress is the resume path; the claim clears the
	// recorded error
	claimed, err := db.ClaimBackfillProgress(record.ID, false)
	require.NoError(t, err)
	assert.Equal(t, record.ID, claimed.ID)

	loaded, err := db.GetBackfillProgress(record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackfillStatusInProgress, loaded.Status)
	assert.Empty(t, loaded.LastError)
}

func TestAdvanceBackfillProgressMonotonic(t *testing.T) {
	db := newTestDatabase(t)
	record := newTestProgress(t, db)
	_, err := db.ClaimBackfillProgress(record.ID, false)
	require.NoError(t, err)

	first := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	second := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.AdvanceBackfillProgress(record.ID, first, 100))
	require.NoError(t, db.AdvanceBackfillProgress(record.ID, second, 50))

	loaded, err := db.GetBackfillProgress(record.ID)
	require.NoError(t, err)
	assert.True(t, loaded.ResumePoint.Equal(second))
	assert.Equal(t, int64(150), loaded.PointsIngested)

	// An older boundary never regresses the resume point, but points
	// still accumulate
	require.NoError(t, db.AdvanceBackfillProgress(record.ID, first, 10))
	loaded, err = db.GetBackfillProgress(record.ID)
	require.NoError(t, err)
	assert.True(t, loaded.ResumePoint.Equal(second))
	assert.Equal(t, int64(160), loaded.PointsIngested)
}

func TestFinishBackfillProgressTransitions(t *testing.T) {
	db := newTestDatabase(t)
	record := newTestProgress(t, db)

	// pending -> completed is not a valid transition
	err := db.FinishBackfillProgress(
		record.ID,
		models.BackfillStatusCompleted,
		"",
	)
	assert.Error(t, err)

	_, err = db.ClaimBackfillProgress(record.ID, false)
	require.NoError(t, err)
	require.NoError(t, db.FinishBackfillProgress(
		record.ID,
		models.BackfillStatusCompleted,
		"",
	))

	loaded, err := db.GetBackfillProgress(record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackfillStatusCompleted, loaded.Status)
	require.NotNil(t, loaded.CompletedAt)

	// Terminal states other than completed/failed are rejected outright
	err = db.FinishBackfillProgress(
		record.ID,
		models.BackfillStatusPending,
		"",
	)
	assert.Error(t, err)
}

func TestListResumableBackfillProgress(t *testing.T) {
	db := newTestDatabase(t)

	pending := newTestProgress(t, db)
	inProgress := newTestProgress(t, db)
	failed := newTestProgress(t, db)
	completed := newTestProgress(t, db)

	_, err := db.ClaimBackfillProgress(inProgress.ID, false)
	require.NoError(t, err)
	_, err = db.ClaimBackfillProgress(failed.ID, false)
	require.NoError(t, err)
	require.NoError(t, db.FinishBackfillProgress(
		failed.ID,
		models.BackfillStatusFailed,
		"boom",
	))
	_, err = db.ClaimBackfillProgress(completed.ID, false)
	require.NoError(t, err)
	require.NoError(t, db.FinishBackfillProgress(
		completed.ID,
		models.BackfillStatusCompleted,
		"",
	))

	resumable, err := db.ListResumableBackfillProgress()
	require.NoError(t, err)
	ids := make([]uint, 0, len(resumable))
	for _, r := range resumable {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, inProgress.ID)
	assert.Contains(t, ids, failed.ID)
	assert.NotContains(t, ids, pending.ID)
	assert.NotContains(t, ids, completed.ID)
}

func TestBackfillStatusStateMachine(t *testing.T) {
	assert.True(
		t,
		models.BackfillStatusPending.CanTransitionTo(
			models.BackfillStatusInProgress,
		),
	)
	assert.False(
		t,
		models.BackfillStatusPending.CanTransitionTo(
			models.BackfillStatusCompleted,
		),
	)
	assert.True(
		t,
		models.BackfillStatusInProgress.CanTransitionTo(
			models.BackfillStatusFailed,
		),
	)
	assert.True(
		t,
		models.BackfillStatusFailed.CanTransitionTo(
			models.BackfillStatusInProgress,
		),
	)
	assert.False(
		t,
		models.BackfillStatusCompleted.CanTransitionTo(
			models.BackfillStatusInProgress,
		),
	)
}
