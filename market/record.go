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

package market

import "time"

// Record is a single measurement. The natural key is
// (Timestamp, Area, DataType, BusinessType). Everything else is
// metadata and may be overwritten by a later upsert for the same key.
//
// SeriesID is deliberately excluded from the key: it is scoped to a
// single upstream document and the same small integer label is reused
// across unrelated documents fetched minutes apart. Keying on it would
// both duplicate instants and silently collide unrelated ones.
type Record struct {
	Timestamp    time.Time
	Area         Area
	DataType     DataType
	BusinessType BusinessType
	Quantity     float64
	Unit         string
	DocumentID   string
	SeriesID     string
	Resolution   time.Duration
	Revision     int
	PeriodStart  time.Time
	PeriodEnd    time.Time
}

// Key identifies a stored measurement.
type Key struct {
	Timestamp    time.Time
	Area         Area
	DataType     DataType
	BusinessType BusinessType
}

func (r Record) Key() Key {
	return Key{
		Timestamp:    r.Timestamp,
		Area:         r.Area,
		DataType:     r.DataType,
		BusinessType: r.BusinessType,
	}
}
