package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"vrac/internal/config"
	"vrac/internal/models"
	"vrac/internal/store"
)

// tokenManifest is the YAML document accepted by `vrac token import`.
type tokenManifest struct {
	Tokens []manifestToken `yaml:"tokens"`
}

type manifestToken struct {
	Path                     string `yaml:"path"`
	MaxSizeBytes             int64  `yaml:"max_size_bytes"`
	ValidFor                 string `yaml:"valid_for"`
	ValidUntil               string `yaml:"valid_until"`
	ContentExpiresAfterHours int64  `yaml:"content_expires_after_hours"`
	UsePolicy                string `yaml:"use_policy"`
}

type importOutcome struct {
	Path    string `json:"path"`
	TokenID string `json:"token_id,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

func newTokenImportCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var skipTaken bool

	cmd := &cobra.Command{
		Use:   "import <manifest.yaml>",
		Short: "Create tokens in bulk from a YAML manifest",
		Args:  requireExactlyArgs(1, "manifest file is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := loadTokenManifest(args[0])
			if err != nil {
				return err
			}
			if len(manifest.Tokens) == 0 {
				return fmt.Errorf("manifest contains no tokens")
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			now := time.Now().UTC()
			outcomes := make([]importOutcome, 0, len(manifest.Tokens))
			failed := 0

			for _, entry := range manifest.Tokens {
				spec, err := specFromManifest(entry, now)
				if err != nil {
					outcomes = append(outcomes, importOutcome{Path: entry.Path, Status: "invalid", Error: err.Error()})
					failed++
					continue
				}

				token, err := st.CreateToken(cmd.Context(), *spec, now)
				switch {
				case err == nil:
					outcomes = append(outcomes, importOutcome{Path: entry.Path, TokenID: token.ID, Status: "created"})
				case errors.Is(err, store.ErrTokenPathTaken) && skipTaken:
					outcomes = append(outcomes, importOutcome{Path: entry.Path, Status: "skipped", Error: err.Error()})
				default:
					outcomes = append(outcomes, importOutcome{Path: entry.Path, Status: "failed", Error: err.Error()})
					failed++
				}
			}

			if *jsonOutput {
				if err := writeJSON(map[string]any{"count": len(outcomes), "results": outcomes}); err != nil {
					return err
				}
			} else {
				for _, outcome := range outcomes {
					if outcome.Error != "" {
						if err := writePlain("%-8s %s (%s)\n", outcome.Status, outcome.Path, outcome.Error); err != nil {
							return err
						}
						continue
					}
					if err := writePlain("%-8s %s %s\n", outcome.Status, outcome.Path, outcome.TokenID); err != nil {
						return err
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d tokens not created", failed, len(manifest.Tokens))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipTaken, "skip-taken", false, "skip paths already claimed by a live token")
	return cmd
}

func loadTokenManifest(path string) (*tokenManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest tokenManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &manifest, nil
}

func specFromManifest(entry manifestToken, now time.Time) (*store.TokenSpec, error) {
	if entry.ValidFor != "" && entry.ValidUntil != "" {
		return nil, fmt.Errorf("valid_for and valid_until are mutually exclusive")
	}

	var deadline time.Time
	switch {
	case entry.ValidUntil != "":
		parsed, err := time.Parse(time.RFC3339, entry.ValidUntil)
		if err != nil {
			return nil, fmt.Errorf("valid_until must be RFC 3339: %w", err)
		}
		deadline = parsed.UTC()
	case entry.ValidFor != "":
		duration, err := time.ParseDuration(entry.ValidFor)
		if err != nil || duration <= 0 {
			return nil, fmt.Errorf("valid_for must be a positive duration")
		}
		deadline = now.Add(duration)
	default:
		return nil, fmt.Errorf("valid_for or valid_until is required")
	}

	policy, err := models.ParseUsePolicy(entry.UsePolicy)
	if err != nil {
		return nil, err
	}

	return &store.TokenSpec{
		Path:                     entry.Path,
		MaxSizeBytes:             entry.MaxSizeBytes,
		ValidUntil:               deadline,
		ContentExpiresAfterHours: entry.ContentExpiresAfterHours,
		UsePolicy:                policy,
	}, nil
}
