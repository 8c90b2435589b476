// Package config handles runtime configuration: defaults, an optional JSON
// file, and BREWTUNE_* environment variables. Later sources take precedence.
package config

import (
	"time"

	"github.com/brewtune/brewtune/internal/common"
)

// Config holds runtime settings for the brewtune CLI.
//
// Fields:
//   - TenantID / ClientID / ClientSecret: Entra ID service-principal
//     credentials for Microsoft Graph. The secret may be left empty and
//     supplied interactively.
//   - GraphBaseURL: Graph endpoint, override for sovereign clouds and tests.
//   - RequestTimeout: timeout for individual Graph calls.
//   - TransferTimeout: overall budget for the blob transfer phase.
//   - HistoryDBPath: sqlite file recording completed uploads.
//   - LogLevel: debug, info, warn or error.
type Config struct {
	TenantID        string
	ClientID        string
	ClientSecret    string
	GraphBaseURL    string
	RequestTimeout  time.Duration
	TransferTimeout time.Duration
	HistoryDBPath   string
	LogLevel        string
}

// LoadDefaults populates c with sensible defaults. Credentials have no
// defaults and must come from the JSON file, environment or prompts.
func (c *Config) LoadDefaults() {
	c.GraphBaseURL = common.GraphBaseURL
	c.RequestTimeout = 300 * time.Second
	c.TransferTimeout = 60 * time.Minute
	c.HistoryDBPath = "brewtune-history.db"
	c.LogLevel = "info"
}

// Load builds a Config by applying defaults, then overlaying values from the
// JSON file at path (if non-empty) and finally from BREWTUNE_* environment
// variables.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	parseEnv(cfg)
	return cfg, nil
}
