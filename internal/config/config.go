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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/gridsync/market"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "gridsync.config"

const (
	DefaultShutdownTimeout   = "30s"
	DefaultMeasurementPlugin = "sqlite"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// EndpointConfig describes one collection stream in the config file.
// Window fields are duration strings (e.g. "24h", "720h").
type EndpointConfig struct {
	Name             string `yaml:"name"`
	DataType         string `yaml:"dataType"`
	BusinessType     string `yaml:"businessType"`
	MinInterval      string `yaml:"minInterval"`
	MaxRequestWindow string `yaml:"maxRequestWindow"`
	GapFillWindow    string `yaml:"gapFillWindow"`
	BackfillWindow   string `yaml:"backfillWindow"`
}

// ClickhouseConfig holds ClickHouse connection options for the
// clickhouse measurement plugin.
type ClickhouseConfig struct {
	Addr     string `yaml:"addr"     envconfig:"GRIDSYNC_CLICKHOUSE_ADDR"`
	Database string `yaml:"database" envconfig:"GRIDSYNC_CLICKHOUSE_DATABASE"`
	Username string `yaml:"username" envconfig:"GRIDSYNC_CLICKHOUSE_USERNAME"`
	Password string `yaml:"password" envconfig:"GRIDSYNC_CLICKHOUSE_PASSWORD"`
}

type Config struct {
	DatabasePath       string           `yaml:"databasePath"                                               split_words:"true"`
	MeasurementPlugin  string           `yaml:"measurementPlugin"  envconfig:"GRIDSYNC_MEASUREMENT_PLUGIN"`
	Clickhouse         ClickhouseConfig `yaml:"clickhouse"`
	UpstreamUrl        string           `yaml:"upstreamUrl"                                                split_words:"true"`
	SecurityToken      string           `yaml:"securityToken"      envconfig:"GRIDSYNC_SECURITY_TOKEN"`
	RequestTimeout     string           `yaml:"requestTimeout"                                             split_words:"true"`
	Areas              []string         `yaml:"areas"`
	Endpoints          []EndpointConfig `yaml:"endpoints"          ignored:"true"`
	BindAddr           string           `yaml:"bindAddr"                                                   split_words:"true"`
	ApiPort            uint             `yaml:"apiPort"                                                    split_words:"true"`
	MetricsPort        uint             `yaml:"metricsPort"                                                split_words:"true"`
	RateLimitDelay     string           `yaml:"rateLimitDelay"                                             split_words:"true"`
	MaxConcurrentAreas int              `yaml:"maxConcurrentAreas"                                         split_words:"true"`
	GapFillInterval    string           `yaml:"gapFillInterval"                                            split_words:"true"`
	DefaultLookback    string           `yaml:"defaultLookback"                                            split_words:"true"`
	ChunkRetries       int              `yaml:"chunkRetries"                                               split_words:"true"`
	RetryBackoff       string           `yaml:"retryBackoff"                                               split_words:"true"`
	Tracing            bool             `yaml:"tracing"`
	TracingStdout      bool             `yaml:"tracingStdout"                                              split_words:"true"`
	ShutdownTimeout    string           `yaml:"shutdownTimeout"                                            split_words:"true"`
}

var globalConfig = &Config{
	DatabasePath:       ".gridsync",
	MeasurementPlugin:  DefaultMeasurementPlugin,
	UpstreamUrl:        "https://web-api.tp.entsoe.eu/api",
	RequestTimeout:     "30s",
	Areas:              []string{"10YCZ-CEPS-----N"},
	BindAddr:           "0.0.0.0",
	ApiPort:            8080,
	MetricsPort:        12798,
	RateLimitDelay:     "2s",
	MaxConcurrentAreas: 1,
	GapFillInterval:    "1h",
	DefaultLookback:    "26280h", // three years
	ChunkRetries:       2,
	RetryBackoff:       "5s",
	ShutdownTimeout:    DefaultShutdownTimeout,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.gridsync/gridsync.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".gridsync", "gridsync.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/gridsync/gridsync.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/gridsync/gridsync.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Overlay config values onto existing defaults
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Env var overrides
	err := envconfig.Process("gridsync", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	return globalConfig, nil
}

// GetConfig returns the global config instance
func GetConfig() *Config {
	return globalConfig
}

// MarketAreas returns the configured areas as domain types.
func (c *Config) MarketAreas() []market.Area {
	areas := make([]market.Area, 0, len(c.Areas))
	for _, area := range c.Areas {
		areas = append(areas, market.Area(area))
	}
	return areas
}

// MarketEndpoints builds validated endpoint descriptors from the
// config. With no endpoints configured, a default set covering
// day-ahead prices and actual load is used.
func (c *Config) MarketEndpoints() ([]market.Endpoint, error) {
	if len(c.Endpoints) == 0 {
		return defaultEndpoints(), nil
	}
	endpoints := make([]market.Endpoint, 0, len(c.Endpoints))
	for _, entry := range c.Endpoints {
		endpoint, err := entry.toMarketEndpoint()
		if err != nil {
			return nil, err
		}
		if err := endpoint.Validate(); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}

func (e EndpointConfig) toMarketEndpoint() (market.Endpoint, error) {
	endpoint := market.Endpoint{
		Name:         e.Name,
		DataType:     market.DataType(e.DataType),
		BusinessType: market.BusinessType(e.BusinessType),
	}
	var err error
	if endpoint.MinInterval, err = parseDuration(
		e.MinInterval, "minInterval", e.Name,
	); err != nil {
		return endpoint, err
	}
	if endpoint.MaxRequestWindow, err = parseDuration(
		e.MaxRequestWindow, "maxRequestWindow", e.Name,
	); err != nil {
		return endpoint, err
	}
	if endpoint.GapFillWindow, err = parseDuration(
		e.GapFillWindow, "gapFillWindow", e.Name,
	); err != nil {
		return endpoint, err
	}
	if endpoint.BackfillWindow, err = parseDuration(
		e.BackfillWindow, "backfillWindow", e.Name,
	); err != nil {
		return endpoint, err
	}
	return endpoint, nil
}

func parseDuration(
	value string,
	field string,
	endpointName string,
) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf(
			"endpoint %s: invalid %s %q: %w",
			endpointName,
			field,
			value,
			err,
		)
	}
	return parsed, nil
}

func defaultEndpoints() []market.Endpoint {
	return []market.Endpoint{
		{
			Name:             "day-ahead-prices",
			DataType:         market.DataTypeDayAheadPrices,
			MinInterval:      time.Hour,
			MaxRequestWindow: 366 * 24 * time.Hour,
			GapFillWindow:    24 * time.Hour,
			BackfillWindow:   31 * 24 * time.Hour,
		},
		{
			Name:             "actual-load",
			DataType:         market.DataTypeActualLoad,
			MinInterval:      15 * time.Minute,
			MaxRequestWindow: 366 * 24 * time.Hour,
			GapFillWindow:    24 * time.Hour,
			BackfillWindow:   31 * 24 * time.Hour,
		},
	}
}
