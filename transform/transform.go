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

package transform

import (
	"fmt"
	"time"

	"github.com/blinklabs-io/gridsync/market"
)

// periodTimeLayout is the timestamp format used in document period
// boundaries (minute precision, always UTC).
const periodTimeLayout = "2006-01-02T15:04Z"

// TransformationError indicates a document could not be converted into
// measurement records. The offending document is skipped; sibling
// documents in the same chunk are still ingested.
type TransformationError struct {
	DocumentID string
	Err        error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf(
		"transform document %s: %s",
		e.DocumentID,
		e.Err.Error(),
	)
}

func (e *TransformationError) Unwrap() error { return e.Err }

// Transform flattens a raw document into measurement records for the
// given area and data type. Each record's timestamp is computed from
// its period start, the period resolution, and the point's 1-based
// position index.
func Transform(
	doc RawDocument,
	area market.Area,
	dataType market.DataType,
) ([]market.Record, error) {
	var series []xmlSeries
	switch d := doc.(type) {
	case *PublicationDocument:
		series = d.TimeSeries
	case *GLDocument:
		series = d.TimeSeries
	default:
		return nil, &TransformationError{
			DocumentID: doc.DocumentID(),
			Err:        fmt.Errorf("unsupported document type %T", doc),
		}
	}
	var records []market.Record
	for _, ts := range series {
		unit := seriesUnit(ts)
		for _, period := range ts.Periods {
			start, err := parsePeriodTime(period.TimeInterval.Start)
			if err != nil {
				return nil, &TransformationError{
					DocumentID: doc.DocumentID(),
					Err:        fmt.Errorf("period start: %w", err),
				}
			}
			end, err := parsePeriodTime(period.TimeInterval.End)
			if err != nil {
				return nil, &TransformationError{
					DocumentID: doc.DocumentID(),
					Err:        fmt.Errorf("period end: %w", err),
				}
			}
			resolution, err := ParseResolution(period.Resolution)
			if err != nil {
				return nil, &TransformationError{
					DocumentID: doc.DocumentID(),
					Err:        err,
				}
			}
			for _, point := range period.Points {
				if point.Position < 1 {
					return nil, &TransformationError{
						DocumentID: doc.DocumentID(),
						Err: fmt.Errorf(
							"invalid point position %d",
							point.Position,
						),
					}
				}
				quantity := point.Quantity
				if _, ok := doc.(*PublicationDocument); ok &&
					quantity == 0 {
					quantity = point.Price
				}
				records = append(records, market.Record{
					Timestamp: start.Add(
						time.Duration(point.Position-1) * resolution,
					),
					Area:         area,
					DataType:     dataType,
					BusinessType: market.BusinessType(ts.BusinessType),
					Quantity:     quantity,
					Unit:         unit,
					DocumentID:   doc.DocumentID(),
					SeriesID:     ts.MRID,
					Resolution:   resolution,
					Revision:     doc.Revision(),
					PeriodStart:  start,
					PeriodEnd:    end,
				})
			}
		}
	}
	return records, nil
}

// ParseResolution converts an ISO-8601 duration as used in document
// periods (PT15M, PT30M, PT60M, P1D, P7D, P1M) into a time.Duration.
// Calendar months are approximated as 30 days, which is only used for
// bucketing and never for timestamp math at sub-daily resolutions.
func ParseResolution(s string) (time.Duration, error) {
	switch s {
	case "PT15M":
		return 15 * time.Minute, nil
	case "PT30M":
		return 30 * time.Minute, nil
	case "PT60M", "PT1H":
		return time.Hour, nil
	case "P1D":
		return 24 * time.Hour, nil
	case "P7D":
		return 7 * 24 * time.Hour, nil
	case "P1M":
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported resolution %q", s)
	}
}

func parsePeriodTime(s string) (time.Time, error) {
	t, err := time.Parse(periodTimeLayout, s)
	if err != nil {
		// Some documents carry full RFC3339 timestamps
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse period time %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

func seriesUnit(ts xmlSeries) string {
	if ts.QuantityUnit != "" {
		return ts.QuantityUnit
	}
	if ts.PriceUnit != "" && ts.CurrencyUnit != "" {
		return ts.CurrencyUnit + "/" + ts.PriceUnit
	}
	if ts.PriceUnit != "" {
		return ts.PriceUnit
	}
	return ts.CurrencyUnit
}
