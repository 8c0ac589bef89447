package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vrac/internal/config"
	"vrac/internal/models"
	"vrac/internal/store"
)

func newTokenCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage upload tokens",
	}
	cmd.AddCommand(
		newTokenCreateCmd(cfg, jsonOutput),
		newTokenListCmd(cfg, jsonOutput),
		newTokenDeleteCmd(cfg, jsonOutput),
		newTokenImportCmd(cfg, jsonOutput),
	)
	return cmd
}

func newTokenCreateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var maxSizeBytes int64
	var validFor time.Duration
	var validUntil string
	var contentExpiresHours int64
	var usePolicy string

	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create one upload token",
		Args:  requireExactlyArgs(1, "token path is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()

			deadline, err := resolveDeadline(validUntil, validFor, now)
			if err != nil {
				return err
			}
			policy, err := models.ParseUsePolicy(usePolicy)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			token, err := st.CreateToken(cmd.Context(), store.TokenSpec{
				Path:                     args[0],
				MaxSizeBytes:             maxSizeBytes,
				ValidUntil:               deadline,
				ContentExpiresAfterHours: contentExpiresHours,
				UsePolicy:                policy,
			}, now)
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(token)
			}
			return writeTokenDetail(token)
		},
	}

	cmd.Flags().Int64Var(&maxSizeBytes, "max-size-bytes", 0, "aggregate upload size cap (0 = unlimited)")
	cmd.Flags().DurationVar(&validFor, "valid-for", 24*time.Hour, "how long the token accepts uploads")
	cmd.Flags().StringVar(&validUntil, "valid-until", "", "absolute upload deadline (RFC 3339, overrides --valid-for)")
	cmd.Flags().Int64Var(&contentExpiresHours, "content-expires-after-hours", 0, "hours content stays downloadable after upload (0 = forever)")
	cmd.Flags().StringVar(&usePolicy, "use-policy", "", "single (default) or multi")
	return cmd
}

func newTokenListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var includeDeleted bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tokens, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			tokens, err := st.ListTokens(cmd.Context(), includeDeleted)
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(map[string]any{"count": len(tokens), "tokens": tokens})
			}
			if len(tokens) == 0 {
				return writePlain("no tokens\n")
			}
			return writeTokenList(tokens)
		},
	}

	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted tokens")
	return cmd
}

func newTokenDeleteCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <token-id>",
		Short: "Soft-delete one token; its bytes are reclaimed by the next sweep",
		Args:  requireExactlyArgs(1, "token id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			deleted, err := st.SoftDelete(cmd.Context(), args[0], time.Now().UTC())
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("token %s not found or already deleted", args[0])
			}

			if *jsonOutput {
				return writeJSON(map[string]any{"id": args[0], "deleted": true})
			}
			return writePlain("deleted token %s\n", args[0])
		},
	}
}

// resolveDeadline prefers the absolute deadline when both are given.
func resolveDeadline(validUntil string, validFor time.Duration, now time.Time) (time.Time, error) {
	if validUntil != "" {
		parsed, err := time.Parse(time.RFC3339, validUntil)
		if err != nil {
			return time.Time{}, fmt.Errorf("--valid-until must be RFC 3339: %w", err)
		}
		return parsed.UTC(), nil
	}
	if validFor <= 0 {
		return time.Time{}, fmt.Errorf("--valid-for must be positive")
	}
	return now.Add(validFor), nil
}
