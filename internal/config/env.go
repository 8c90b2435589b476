package config

import (
	"os"
	"time"
)

// parseEnv overlays cfg with values from BREWTUNE_* environment variables.
// Unset variables leave the existing value in place; malformed durations are
// ignored rather than aborting startup.
func parseEnv(cfg *Config) {
	if v, ok := os.LookupEnv("BREWTUNE_TENANT_ID"); ok {
		cfg.TenantID = v
	}
	if v, ok := os.LookupEnv("BREWTUNE_CLIENT_ID"); ok {
		cfg.ClientID = v
	}
	if v, ok := os.LookupEnv("BREWTUNE_CLIENT_SECRET"); ok {
		cfg.ClientSecret = v
	}
	if v, ok := os.LookupEnv("BREWTUNE_GRAPH_BASE_URL"); ok {
		cfg.GraphBaseURL = v
	}
	if v, ok := os.LookupEnv("BREWTUNE_REQUEST_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = d
		}
	}
	if v, ok := os.LookupEnv("BREWTUNE_TRANSFER_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TransferTimeout = d
		}
	}
	if v, ok := os.LookupEnv("BREWTUNE_HISTORY_DB"); ok {
		cfg.HistoryDBPath = v
	}
	if v, ok := os.LookupEnv("BREWTUNE_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}
