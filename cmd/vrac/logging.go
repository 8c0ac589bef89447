package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const logLevelEnvKey = "VRAC_LOG_LEVEL"

// configureDefaultLogger installs the process logger. The flag wins over
// the environment; both empty means info.
func configureDefaultLogger(flagLevel string) error {
	raw := strings.TrimSpace(flagLevel)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(logLevelEnvKey))
	}
	level, err := parseLogLevel(raw)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(level))
	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return slog.LevelInfo, nil
	}
	if strings.EqualFold(value, "warning") {
		value = "warn"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
