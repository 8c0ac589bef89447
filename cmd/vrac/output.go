package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"vrac/internal/format"
	"vrac/internal/models"
)

var outputFormatter format.Formatter = format.JSONFormatter{Indent: "  "}

func writeJSON(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeTokenList(tokens []models.Token) error {
	for i := range tokens {
		if err := writePlain("%s\n", formatTokenLine(&tokens[i])); err != nil {
			return err
		}
	}
	return nil
}

func writeTokenDetail(token *models.Token) error {
	lines := []string{
		fmt.Sprintf("id: %s", token.ID),
		fmt.Sprintf("path: %s", token.Path),
		fmt.Sprintf("use_policy: %s", token.UsePolicy),
		fmt.Sprintf("valid_until: %s", formatTime(token.ValidUntil)),
		fmt.Sprintf("attempts: %d", token.AttemptCounter),
		fmt.Sprintf("created_at: %s", formatTime(token.CreatedAt)),
	}
	if token.MaxSizeBytes > 0 {
		lines = append(lines, fmt.Sprintf("max_size_bytes: %d", token.MaxSizeBytes))
	}
	if token.ContentExpiresAfterHours > 0 {
		lines = append(lines, fmt.Sprintf("content_expires_after_hours: %d", token.ContentExpiresAfterHours))
	}
	if token.UsedAt != nil {
		lines = append(lines, fmt.Sprintf("used_at: %s", formatTime(*token.UsedAt)))
	}
	if token.ContentExpiresAt != nil {
		lines = append(lines, fmt.Sprintf("content_expires_at: %s", formatTime(*token.ContentExpiresAt)))
	}
	if token.DeletedAt != nil {
		lines = append(lines, fmt.Sprintf("deleted_at: %s", formatTime(*token.DeletedAt)))
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func formatTokenLine(token *models.Token) string {
	state := "open"
	switch {
	case token.DeletedAt != nil:
		state = "deleted"
	case token.Used():
		state = "used"
	case !time.Now().UTC().Before(token.ValidUntil):
		state = "expired"
	}
	return fmt.Sprintf("%s  %-10s %s (valid until %s)", token.ID, state, token.Path, formatTime(token.ValidUntil))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
