// Package util holds small helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean environment variable. It accepts
// true/1/yes/on and false/0/no/off regardless of case; unset or
// unrecognized values yield fallback.
func ParseBoolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("Ignoring unparseable boolean environment variable", "key", key, "value", raw)
	return fallback
}
