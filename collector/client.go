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
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/blinklabs-io/gridsync/market"
	"github.com/blinklabs-io/gridsync/transform"
)

const (
	// requestTimeLayout is the timestamp format the transparency API
	// expects in periodStart/periodEnd query parameters.
	requestTimeLayout = "200601021504"

	defaultRequestTimeout = 60 * time.Second
)

// acknowledgementDocument is the error document returned by the
// upstream API in place of data.
type acknowledgementDocument struct {
	XMLName xml.Name `xml:"Acknowledgement_MarketDocument"`
	Reason  struct {
		Code string `xml:"code"`
		Text string `xml:"text"`
	} `xml:"Reason"`
}

// Reason code 999 means "no matching data found", which is an empty
// result, not an error.
const reasonCodeNoData = "999"

// ClientConfig configures the upstream API client.
type ClientConfig struct {
	// BaseURL is the API endpoint, e.g.
	// "https://web-api.tp.example.org/api".
	BaseURL string
	// SecurityToken authenticates every request.
	SecurityToken string
	// Timeout bounds a single request. Defaults to 60s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client is an HTTP client for the market transparency API.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an upstream API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("collector: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("collector: invalid base URL: %w", err)
	}
	if cfg.SecurityToken == "" {
		return nil, errors.New("collector: security token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "collector"),
	}, nil
}

// Fetch requests documents for the given stream and window. A window
// with no matching upstream data returns an empty slice and no error.
func (c *Client) Fetch(
	ctx context.Context,
	area market.Area,
	dataType market.DataType,
	businessType market.BusinessType,
	from time.Time,
	to time.Time,
) ([]transform.RawDocument, error) {
	reqURL, err := c.buildURL(area, dataType, businessType, from, to)
	if err != nil {
		return nil, &PermanentError{Reason: "build request", Err: err}
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		reqURL,
		nil,
	)
	if err != nil {
		return nil, &PermanentError{Reason: "build request", Err: err}
	}
	c.logger.Debug(
		"fetching documents",
		"area", string(area),
		"data_type", string(dataType),
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339),
	)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context cancellation propagates as-is so callers can tell
		// shutdown apart from upstream trouble
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Reason: "read response", Err: err}
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	doc, err := transform.Decode(body)
	if err != nil {
		// The API signals errors and empty results with an
		// acknowledgement document rather than an HTTP status
		if ack, ackErr := decodeAcknowledgement(body); ackErr == nil {
			if ack.Reason.Code == reasonCodeNoData {
				return nil, nil
			}
			return nil, &PermanentError{
				Reason: fmt.Sprintf(
					"upstream rejection %s: %s",
					ack.Reason.Code,
					ack.Reason.Text,
				),
			}
		}
		return nil, &PermanentError{Reason: "decode response", Err: err}
	}
	return []transform.RawDocument{doc}, nil
}

func (c *Client) buildURL(
	area market.Area,
	dataType market.DataType,
	businessType market.BusinessType,
	from time.Time,
	to time.Time,
) (string, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("securityToken", c.config.SecurityToken)
	q.Set("documentType", string(dataType))
	if businessType != market.BusinessTypeNone {
		q.Set("processType", string(businessType))
	}
	q.Set("in_Domain", string(area))
	q.Set("out_Domain", string(area))
	q.Set("periodStart", from.UTC().Format(requestTimeLayout))
	q.Set("periodEnd", to.UTC().Format(requestTimeLayout))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return &TransientError{
			Reason: "rate limited",
		}
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden:
		return &PermanentError{
			Reason: fmt.Sprintf("authentication failed (status %d)", status),
		}
	case status == http.StatusBadRequest:
		return &PermanentError{
			Reason: "malformed request (status 400)",
		}
	case status >= 500:
		return &TransientError{
			Reason: fmt.Sprintf("upstream error (status %d)", status),
		}
	default:
		return &PermanentError{
			Reason: fmt.Sprintf("unexpected status %d", status),
		}
	}
}

func decodeAcknowledgement(
	payload []byte,
) (*acknowledgementDocument, error) {
	var ack acknowledgementDocument
	if err := xml.Unmarshal(payload, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}
