package main

import (
	"errors"
	"strings"

	"vrac/internal/store"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	if errors.Is(err, store.ErrTokenPathTaken) {
		lines = append(lines, "hint: delete the live token on this path first, or pick another path.")
	}
	if strings.Contains(err.Error(), "database is locked") {
		lines = append(lines, "hint: another vrac process holds the database; stop it or retry.")
	}
	if strings.Contains(err.Error(), "storage.endpoint is required") {
		lines = append(lines, "hint: set storage.endpoint via `vrac config set` or VRAC_S3_ENDPOINT.")
	}

	return lines
}
