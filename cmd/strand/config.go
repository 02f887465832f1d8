package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all strand server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	PoolSize       int    `json:"pool_size"`
	AgentBaseURL   string `json:"agent_base_url"`
	AgentTimeoutMS int    `json:"agent_timeout_ms"`
	HTTPTimeoutMS  int    `json:"http_timeout_ms"`
}

func defaultConfig() Config {
	return Config{
		DBPath:         filepath.Join(strandDir(), "strand.db"),
		LogLevel:       "info",
		PoolSize:       8,
		AgentBaseURL:   "http://localhost:4200",
		AgentTimeoutMS: 120_000,
		HTTPTimeoutMS:  30_000,
	}
}

func strandDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".strand"
	}
	return filepath.Join(home, ".strand")
}

func settingsPath() string {
	return filepath.Join(strandDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("STRAND_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STRAND_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STRAND_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("STRAND_AGENT_BASE_URL"); v != "" {
		cfg.AgentBaseURL = v
	}
	if v := os.Getenv("STRAND_AGENT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AgentTimeoutMS = n
		}
	}
	if v := os.Getenv("STRAND_HTTP_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPTimeoutMS = n
		}
	}

	return cfg
}
