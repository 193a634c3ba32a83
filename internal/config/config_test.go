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

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/blinklabs-io/gridsync/market"
)

func resetGlobalConfig() {
	globalConfig = &Config{
		DatabasePath:       ".gridsync",
		MeasurementPlugin:  "sqlite",
		UpstreamUrl:        "https://web-api.tp.entsoe.eu/api",
		RequestTimeout:     "30s",
		Areas:              []string{"10YCZ-CEPS-----N"},
		BindAddr:           "0.0.0.0",
		ApiPort:            8080,
		MetricsPort:        12798,
		RateLimitDelay:     "2s",
		MaxConcurrentAreas: 1,
		GapFillInterval:    "1h",
		DefaultLookback:    "26280h",
		ChunkRetries:       2,
		RetryBackoff:       "5s",
		ShutdownTimeout:    "30s",
	}
}

func TestLoad_WithoutConfigFile_UsesDefaults(t *testing.T) {
	resetGlobalConfig()

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	expected := &Config{
		DatabasePath:       ".gridsync",
		MeasurementPlugin:  "sqlite",
		UpstreamUrl:        "https://web-api.tp.entsoe.eu/api",
		RequestTimeout:     "30s",
		Areas:              []string{"10YCZ-CEPS-----N"},
		BindAddr:           "0.0.0.0",
		ApiPort:            8080,
		MetricsPort:        12798,
		RateLimitDelay:     "2s",
		MaxConcurrentAreas: 1,
		GapFillInterval:    "1h",
		DefaultLookback:    "26280h",
		ChunkRetries:       2,
		RetryBackoff:       "5s",
		ShutdownTimeout:    "30s",
	}

	if !reflect.DeepEqual(cfg, expected) {
		t.Errorf(
			"config mismatch without file:\nExpected: %+v\nGot:      %+v",
			expected,
			cfg,
		)
	}
}

func TestLoad_ConfigFileOverlay(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
databasePath: "/var/lib/gridsync"
securityToken: "file-token"
areas:
  - "10YCZ-CEPS-----N"
  - "10YDE-VE-------2"
rateLimitDelay: "5s"
apiPort: 9000
tracing: true
endpoints:
  - name: "day-ahead-prices"
    dataType: "A44"
    minInterval: "1h"
    maxRequestWindow: "8784h"
    gapFillWindow: "24h"
    backfillWindow: "744h"
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-gridsync.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.DatabasePath != "/var/lib/gridsync" {
		t.Errorf("unexpected databasePath: %s", cfg.DatabasePath)
	}
	if cfg.SecurityToken != "file-token" {
		t.Errorf("unexpected securityToken: %s", cfg.SecurityToken)
	}
	if len(cfg.Areas) != 2 {
		t.Errorf("expected 2 areas, got: %d", len(cfg.Areas))
	}
	if cfg.RateLimitDelay != "5s" {
		t.Errorf("unexpected rateLimitDelay: %s", cfg.RateLimitDelay)
	}
	if cfg.ApiPort != 9000 {
		t.Errorf("unexpected apiPort: %d", cfg.ApiPort)
	}
	if !cfg.Tracing {
		t.Errorf("expected tracing to be true")
	}
	// Unset keys keep their defaults
	if cfg.MetricsPort != 12798 {
		t.Errorf("unexpected metricsPort: %d", cfg.MetricsPort)
	}
	if len(cfg.Endpoints) != 1 {
		t.Fatalf("expected 1 endpoint, got: %d", len(cfg.Endpoints))
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
securityToken: "file-token"
upstreamUrl: "https://example.com/api"
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-gridsync.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("GRIDSYNC_SECURITY_TOKEN", "env-token")
	t.Setenv("GRIDSYNC_UPSTREAM_URL", "https://env.example.com/api")

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.SecurityToken != "env-token" {
		t.Errorf("expected env token to win, got: %s", cfg.SecurityToken)
	}
	if cfg.UpstreamUrl != "https://env.example.com/api" {
		t.Errorf("expected env upstream URL to win, got: %s", cfg.UpstreamUrl)
	}
}

func TestMarketAreas(t *testing.T) {
	cfg := &Config{Areas: []string{"10YCZ-CEPS-----N", "10YDE-VE-------2"}}
	areas := cfg.MarketAreas()
	if len(areas) != 2 {
		t.Fatalf("expected 2 areas, got: %d", len(areas))
	}
	if areas[0] != market.Area("10YCZ-CEPS-----N") {
		t.Errorf("unexpected area: %s", areas[0])
	}
}

func TestMarketEndpoints_Defaults(t *testing.T) {
	cfg := &Config{}
	endpoints, err := cfg.MarketEndpoints()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 default endpoints, got: %d", len(endpoints))
	}
	for _, endpoint := range endpoints {
		if err := endpoint.Validate(); err != nil {
			t.Errorf(
				"default endpoint %s is invalid: %v",
				endpoint.Name,
				err,
			)
		}
	}
}

func TestMarketEndpoints_Parsing(t *testing.T) {
	cfg := &Config{
		Endpoints: []EndpointConfig{
			{
				Name:             "generation",
				DataType:         "A75",
				BusinessType:     "A01",
				MinInterval:      "15m",
				MaxRequestWindow: "8784h",
				GapFillWindow:    "24h",
				BackfillWindow:   "744h",
			},
		},
	}
	endpoints, err := cfg.MarketEndpoints()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(endpoints) != 1 {
		t.Fatalf("expected 1 endpoint, got: %d", len(endpoints))
	}
	endpoint := endpoints[0]
	if endpoint.DataType != market.DataTypeGeneration {
		t.Errorf("unexpected data type: %s", endpoint.DataType)
	}
	if endpoint.BusinessType != market.BusinessTypeProduction {
		t.Errorf("unexpected business type: %s", endpoint.BusinessType)
	}
	if endpoint.MinInterval != 15*time.Minute {
		t.Errorf("unexpected min interval: %s", endpoint.MinInterval)
	}
	if endpoint.BackfillWindow != 744*time.Hour {
		t.Errorf("unexpected backfill window: %s", endpoint.BackfillWindow)
	}
}

func TestMarketEndpoints_InvalidDuration(t *testing.T) {
	cfg := &Config{
		Endpoints: []EndpointConfig{
			{
				Name:             "broken",
				DataType:         "A44",
				MinInterval:      "one hour",
				MaxRequestWindow: "48h",
				GapFillWindow:    "24h",
				BackfillWindow:   "24h",
			},
		},
	}
	if _, err := cfg.MarketEndpoints(); err == nil {
		t.Errorf("expected error for invalid duration")
	}
}

func TestConfigContext(t *testing.T) {
	cfg := &Config{SecurityToken: "ctx-token"}
	ctx := WithContext(t.Context(), cfg)
	if got := FromContext(ctx); got != cfg {
		t.Errorf("expected config from context")
	}
	if got := FromContext(t.Context()); got != nil {
		t.Errorf("expected nil config from empty context")
	}
}
