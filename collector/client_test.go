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

package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blinklabs-io/gridsync/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDocPayload = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument>
  <mRID>doc-1</mRID>
  <revisionNumber>1</revisionNumber>
  <TimeSeries>
    <mRID>1</mRID>
    <currency_Unit.name>EUR</currency_Unit.name>
    <price_Measure_Unit.name>MWH</price_Measure_Unit.name>
    <Period>
      <timeInterval>
        <start>2024-01-01T00:00Z</start>
        <end>2024-01-01T02:00Z</end>
      </timeInterval>
      <resolution>PT60M</resolution>
      <Point><position>1</position><price.amount>50.1</price.amount></Point>
      <Point><position>2</position><price.amount>48.7</price.amount></Point>
    </Period>
  </TimeSeries>
</Publication_MarketDocument>`

const testNoDataAck = `<?xml version="1.0" encoding="UTF-8"?>
<Acknowledgement_MarketDocument>
  <mRID>ack-1</mRID>
  <Reason>
    <code>999</code>
    <text>No matching data found</text>
  </Reason>
</Acknowledgement_MarketDocument>`

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURL:       url,
		SecurityToken: "test-token",
		Timeout:       5 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientConfig{SecurityToken: "x"})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestFetchSuccess(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = map[string]string{}
			for key := range r.URL.Query() {
				gotQuery[key] = r.URL.Query().Get(key)
			}
			w.WriteHeader(http.StatusOK)
			//nolint:errcheck
			w.Write([]byte(testDocPayload))
		}),
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	docs, err := client.Fetch(
		context.Background(),
		"10YCZ-CEPS-----N",
		market.DataTypeDayAheadPrices,
		market.BusinessTypeNone,
		from,
		to,
	)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].DocumentID())

	assert.Equal(t, "test-token", gotQuery["securityToken"])
	assert.Equal(t, "A44", gotQuery["documentType"])
	assert.Equal(t, "10YCZ-CEPS-----N", gotQuery["in_Domain"])
	assert.Equal(t, "202401010000", gotQuery["periodStart"])
	assert.Equal(t, "202401020000", gotQuery["periodEnd"])
	// No business type requested, so no processType parameter
	_, hasProcessType := gotQuery["processType"]
	assert.False(t, hasProcessType)
}

func TestFetchNoDataAcknowledgement(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			//nolint:errcheck
			w.Write([]byte(testNoDataAck))
		}),
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	docs, err := client.Fetch(
		context.Background(),
		"area",
		market.DataTypeDayAheadPrices,
		market.BusinessTypeNone,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	)
	// An empty window is a valid result, not an error
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFetchRejectionAcknowledgement(t *testing.T) {
	payload := `<Acknowledgement_MarketDocument>
  <Reason><code>A01</code><text>Requested period too long</text></Reason>
</Acknowledgement_MarketDocument>`
	srv := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			//nolint:errcheck
			w.Write([]byte(payload))
		}),
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Fetch(
		context.Background(),
		"area",
		market.DataTypeDayAheadPrices,
		market.BusinessTypeNone,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestFetchStatusClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "server error", status: http.StatusBadGateway, wantTransient: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantTransient: false},
		{name: "bad request", status: http.StatusBadRequest, wantTransient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
				}),
			)
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.Fetch(
				context.Background(),
				"area",
				market.DataTypeDayAheadPrices,
				market.BusinessTypeNone,
				time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			)
			require.Error(t, err)
			if tt.wantTransient {
				assert.True(t, IsTransient(err))
				assert.False(t, IsPermanent(err))
			} else {
				assert.True(t, IsPermanent(err))
				assert.False(t, IsTransient(err))
			}
		})
	}
}

func TestFetchContextCancellation(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}),
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(
		context.Background(),
		50*time.Millisecond,
	)
	defer cancel()

	_, err := client.Fetch(
		ctx,
		"area",
		market.DataTypeDayAheadPrices,
		market.BusinessTypeNone,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	)
	require.Error(t, err)
	// Cancellation is neither transient nor permanent upstream trouble
	assert.False(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
}
