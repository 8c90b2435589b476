package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// duration unmarshals either a string like "300s" or integer nanoseconds.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	return nil
}

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Empty fields
// leave the corresponding Config value untouched.
type JsonConfig struct {
	TenantID        string   `json:"tenant_id"`
	ClientID        string   `json:"client_id"`
	ClientSecret    string   `json:"client_secret"`
	GraphBaseURL    string   `json:"graph_base_url"`
	RequestTimeout  duration `json:"request_timeout"`
	TransferTimeout duration `json:"transfer_timeout"`
	HistoryDBPath   string   `json:"history_db_path"`
	LogLevel        string   `json:"log_level"`
}

// parseJson overlays cfg with values from the JSON file at path. An empty
// path means no file was requested and is not an error.
func parseJson(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if jc.TenantID != "" {
		cfg.TenantID = jc.TenantID
	}
	if jc.ClientID != "" {
		cfg.ClientID = jc.ClientID
	}
	if jc.ClientSecret != "" {
		cfg.ClientSecret = jc.ClientSecret
	}
	if jc.GraphBaseURL != "" {
		cfg.GraphBaseURL = jc.GraphBaseURL
	}
	if jc.RequestTimeout.Duration != 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.TransferTimeout.Duration != 0 {
		cfg.TransferTimeout = jc.TransferTimeout.Duration
	}
	if jc.HistoryDBPath != "" {
		cfg.HistoryDBPath = jc.HistoryDBPath
	}
	if jc.LogLevel != "" {
		cfg.LogLevel = jc.LogLevel
	}
	return nil
}
