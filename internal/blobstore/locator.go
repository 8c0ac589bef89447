package blobstore

import (
	"encoding/json"
	"fmt"
)

// Locator names one stored object. It serializes to a small JSON document
// that the registry stores verbatim; the fields set depend on Kind.
type Locator struct {
	Kind   string `json:"kind"`
	Path   string `json:"path,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
}

// Encode serializes the locator for storage in the blob registry.
func (l Locator) Encode() (string, error) {
	if l.Kind == "" {
		return "", fmt.Errorf("locator kind is required")
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseLocator decodes a locator previously produced by Encode.
func ParseLocator(raw string) (Locator, error) {
	var loc Locator
	if raw == "" {
		return loc, fmt.Errorf("locator is empty")
	}
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		return loc, fmt.Errorf("parse locator: %w", err)
	}
	if loc.Kind == "" {
		return loc, fmt.Errorf("locator kind is required")
	}
	return loc, nil
}
