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
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/gridsync/database/models"
	"gorm.io/gorm"
)

var (
	// ErrProgressNotFound is returned when a progress record does not
	// exist.
	ErrProgressNotFound = errors.New("backfill progress record not found")
	// ErrProgressClaimed is returned when a claim is attempted on a
	// record that is already in progress.
	ErrProgressClaimed = errors.New("backfill progress record already in progress")
	// ErrProgressCompleted is returned when a claim is attempted on a
	// completed (terminal) record.
	ErrProgressCompleted = errors.New("backfill progress record already completed")
)

// CreateBackfillProgress inserts a new pending progress record.
func (d *Database) CreateBackfillProgress(
	p *models.BackfillProgress,
) error {
	p.Status = models.BackfillStatusPending
	if result := d.progressDb.Create(p); result.Error != nil {
		return fmt.Errorf("create backfill progress: %w", result.Error)
	}
	return nil
}

// GetBackfillProgress retrieves a progress record by ID. The row is
// always read fresh; callers must not hold a returned record across a
// suspension point and mutate it later.
func (d *Database) GetBackfillProgress(
	id uint,
) (*models.BackfillProgress, error) {
	var p models.BackfillProgress
	result := d.progressDb.First(&p, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrProgressNotFound
		}
		return nil, fmt.Errorf("get backfill progress: %w", result.Error)
	}
	return &p, nil
}

// ListBackfillProgress returns all progress records, newest first.
func (d *Database) ListBackfillProgress() (
	[]models.BackfillProgress,
	error,
) {
	var records []models.BackfillProgress
	result := d.progressDb.Order("id DESC").Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("list backfill progress: %w", result.Error)
	}
	return records, nil
}

// ListResumableBackfillProgress returns records left in_progress or
// failed. At daemon startup, in_progress rows are stale claims from an
// interrupted process and are the signal to resume.
func (d *Database) ListResumableBackfillProgress() (
	[]models.BackfillProgress,
	error,
) {
	var records []models.BackfillProgress
	result := d.progressDb.
		Where(
			"status IN ?",
			[]models.BackfillStatus{
				models.BackfillStatusInProgress,
				models.BackfillStatusFailed,
			},
		).
		Order("id ASC").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf(
			"list resumable backfill progress: %w",
			result.Error,
		)
	}
	return records, nil
}

// ClaimBackfillProgress transitions a record to in_progress and
// returns the fresh row. The in_progress status acts as a lightweight
// lease: a record already in_progress cannot be claimed unless
// takeover is set (startup recovery after a crash, when no live holder
// can exist). Completed records are terminal and never claimable.
func (d *Database) ClaimBackfillProgress(
	id uint,
	takeover bool,
) (*models.BackfillProgress, error) {
	var claimed *models.BackfillProgress
	err := d.progressDb.Transaction(func(tx *gorm.DB) error {
		var p models.BackfillProgress
		result := tx.First(&p, id)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return ErrProgressNotFound
			}
			return result.Error
		}
		switch p.Status {
		case models.BackfillStatusCompleted:
			return ErrProgressCompleted
		case models.BackfillStatusInProgress:
			if !takeover {
				return ErrProgressClaimed
			}
		case models.BackfillStatusPending, models.BackfillStatusFailed:
			// claimable
		}
		updates := map[string]any{
			"status":     models.BackfillStatusInProgress,
			"last_error": "",
			"updated_at": time.Now().UTC(),
		}
		if result := tx.Model(&p).Updates(updates); result.Error != nil {
			return result.Error
		}
		claimed = &p
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrProgressNotFound) ||
			errors.Is(err, ErrProgressClaimed) ||
			errors.Is(err, ErrProgressCompleted) {
			return nil, err
		}
		return nil, fmt.Errorf("claim backfill progress: %w", err)
	}
	return claimed, nil
}

// AdvanceBackfillProgress moves the resume point forward after a chunk
// has committed and accumulates the ingested point count. The resume
// point never regresses: an advance with an older boundary is a no-op
// on that column.
func (d *Database) AdvanceBackfillProgress(
	id uint,
	resumePoint time.Time,
	pointsIngested int64,
) error {
	err := d.progressDb.Transaction(func(tx *gorm.DB) error {
		var p models.BackfillProgress
		if result := tx.First(&p, id); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return ErrProgressNotFound
			}
			return result.Error
		}
		updates := map[string]any{
			"points_ingested": p.PointsIngested + pointsIngested,
			"updated_at":      time.Now().UTC(),
		}
		if resumePoint.After(p.ResumePoint) {
			updates["resume_point"] = resumePoint
		}
		return tx.Model(&p).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, ErrProgressNotFound) {
			return err
		}
		return fmt.Errorf("advance backfill progress: %w", err)
	}
	return nil
}

// FinishBackfillProgress marks a record completed or failed. The
// transition is validated against the state machine; LastError is
// recorded on failure.
func (d *Database) FinishBackfillProgress(
	id uint,
	status models.BackfillStatus,
	lastError string,
) error {
	if status != models.BackfillStatusCompleted &&
		status != models.BackfillStatusFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	err := d.progressDb.Transaction(func(tx *gorm.DB) error {
		var p models.BackfillProgress
		if result := tx.First(&p, id); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return ErrProgressNotFound
			}
			return result.Error
		}
		if !p.Status.CanTransitionTo(status) {
			return fmt.Errorf(
				"invalid status transition %s -> %s",
				p.Status,
				status,
			)
		}
		now := time.Now().UTC()
		updates := map[string]any{
			"status":     status,
			"last_error": lastError,
			"updated_at": now,
		}
		if status == models.BackfillStatusCompleted {
			updates["completed_at"] = &now
		}
		return tx.Model(&p).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, ErrProgressNotFound) {
			return err
		}
		return fmt.Errorf("finish backfill progress: %w", err)
	}
	return nil
}
