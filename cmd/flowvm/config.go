package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all flowvm CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	ConditionEngine string `json:"condition_engine"`
	ExprTimeoutMs   int    `json:"expr_timeout_ms"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(flowvmDir(), "flowvm.db"),
		LogLevel:        "info",
		ConditionEngine: "expr",
	}
}

func flowvmDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowvm"
	}
	return filepath.Join(home, ".flowvm")
}

func settingsPath() string {
	return filepath.Join(flowvmDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWVM_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWVM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWVM_CONDITION_ENGINE"); v != "" {
		cfg.ConditionEngine = v
	}
	if v := os.Getenv("FLOWVM_EXPR_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExprTimeoutMs = n
		}
	}

	return cfg
}

func (c Config) exprTimeout() time.Duration {
	if c.ExprTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(c.ExprTimeoutMs) * time.Millisecond
}
