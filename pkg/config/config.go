// Package config loads portal settings from the environment and optional
// YAML files.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			slog.Warn("invalid integer setting", "key", key, "error", err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetDuration retrieves an environment variable as a duration. A bare integer
// counts in unit; anything else must parse with time.ParseDuration.
func GetDuration(key string, fallback, unit time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * unit
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration setting", "key", key, "error", err)
		return fallback
	}
	return parsed
}
