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

// Package scheduler partitions time ranges into bounded chunks and
// dispatches them against the upstream collector with rate limiting
// and bounded cross-area concurrency.
package scheduler

import (
	"time"

	"github.com/blinklabs-io/gridsync/market"
)

// Chunk is a bounded sub-interval dispatched as one upstream request.
type Chunk struct {
	market.Interval
}

// Partition splits interval into ordered chunks whose union exactly
// equals the interval, with no overlaps and each span no larger than
// maxWindow. The final chunk carries any remainder.
func Partition(
	interval market.Interval,
	maxWindow time.Duration,
) []Chunk {
	if maxWindow <= 0 || !interval.From.Before(interval.To) {
		return nil
	}
	var chunks []Chunk
	cur := interval.From
	for cur.Before(interval.To) {
		end := cur.Add(maxWindow)
		if end.After(interval.To) {
			end = interval.To
		}
		chunks = append(chunks, Chunk{
			Interval: market.Interval{From: cur, To: end},
		})
		cur = end
	}
	return chunks
}
