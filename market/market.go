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

// Package market defines the domain types shared by the collection
// pipeline: areas, endpoint descriptors, time intervals, and
// measurement records.
package market

import (
	"errors"
	"fmt"
	"time"
)

// Area is a geographic/market zone identifier (EIC code) for which
// measurements are collected.
type Area string

// DataType identifies the kind of market document requested from the
// upstream API (e.g. day-ahead prices, actual load).
type DataType string

// BusinessType further qualifies a data type within a document
// (e.g. production vs consumption).
type BusinessType string

const (
	DataTypeDayAheadPrices DataType = "A44"
	DataTypeActualLoad     DataType = "A65"
	DataTypeGeneration     DataType = "A75"
	DataTypeCrossBorder    DataType = "A11"

	BusinessTypeNone        BusinessType = ""
	BusinessTypeProduction  BusinessType = "A01"
	BusinessTypeConsumption BusinessType = "A04"
)

// Endpoint describes one (data type, business type) stream. The
// collection interval and request-window limits are properties of the
// upstream API for that data type and are immutable once configured.
type Endpoint struct {
	// Name is a short human-readable identifier used in logs and
	// metrics (e.g. "day-ahead-prices").
	Name         string
	DataType     DataType
	BusinessType BusinessType
	// MinInterval is the minimum practical collection interval. Gaps
	// smaller than this are not worth a request.
	MinInterval time.Duration
	// MaxRequestWindow is the largest [from, to) span the upstream API
	// accepts for a single request of this data type.
	MaxRequestWindow time.Duration
	// GapFillWindow is the chunk size used when closing recent
	// coverage gaps (typically a day).
	GapFillWindow time.Duration
	// BackfillWindow is the chunk size used for historical backfill.
	// It is normally much larger than GapFillWindow since backfill
	// moves far more volume per request. Must not exceed
	// MaxRequestWindow.
	BackfillWindow time.Duration
}

// Validate checks the endpoint descriptor for internal consistency.
func (e Endpoint) Validate() error {
	if e.Name == "" {
		return errors.New("endpoint name is required")
	}
	if e.DataType == "" {
		return fmt.Errorf("endpoint %s: data type is required", e.Name)
	}
	if e.MinInterval <= 0 {
		return fmt.Errorf("endpoint %s: min interval must be positive", e.Name)
	}
	if e.MaxRequestWindow <= 0 {
		return fmt.Errorf(
			"endpoint %s: max request window must be positive",
			e.Name,
		)
	}
	if e.GapFillWindow <= 0 || e.GapFillWindow > e.MaxRequestWindow {
		return fmt.Errorf(
			"endpoint %s: gap-fill window must be positive and not exceed max request window",
			e.Name,
		)
	}
	if e.BackfillWindow <= 0 || e.BackfillWindow > e.MaxRequestWindow {
		return fmt.Errorf(
			"endpoint %s: backfill window must be positive and not exceed max request window",
			e.Name,
		)
	}
	return nil
}

// Interval is a half-open time interval [From, To).
type Interval struct {
	From time.Time
	To   time.Time
}

func NewInterval(from, to time.Time) (Interval, error) {
	if !from.Before(to) {
		return Interval{}, fmt.Errorf(
			"invalid interval: from %s not before to %s",
			from.Format(time.RFC3339),
			to.Format(time.RFC3339),
		)
	}
	return Interval{From: from, To: to}, nil
}

func (i Interval) Duration() time.Duration {
	return i.To.Sub(i.From)
}

func (i Interval) IsZero() bool {
	return i.From.IsZero() && i.To.IsZero()
}

// Contains reports whether t falls within [From, To).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.From) && t.Before(i.To)
}

func (i Interval) String() string {
	return fmt.Sprintf(
		"[%s, %s)",
		i.From.Format(time.RFC3339),
		i.To.Format(time.RFC3339),
	)
}
