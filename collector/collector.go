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

// Package collector fetches raw market documents from the upstream
// transparency API.
package collector

import (
	"context"
	"time"

	"github.com/blinklabs-io/gridsync/market"
	"github.com/blinklabs-io/gridsync/transform"
)

// Collector fetches raw documents for one area/data-type stream over a
// bounded time window. The window must not exceed the endpoint's
// maximum request window; enforcing that is the caller's
// responsibility. Failures are classified as TransientError or
// PermanentError.
type Collector interface {
	Fetch(
		ctx context.Context,
		area market.Area,
		dataType market.DataType,
		businessType market.BusinessType,
		from time.Time,
		to time.Time,
	) ([]transform.RawDocument, error)
}
