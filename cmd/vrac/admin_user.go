package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	internalauth "vrac/internal/auth"
	"vrac/internal/config"
	"vrac/internal/store"
)

func newAdminUserCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin-user",
		Short: "Manage admin accounts for the HTTP admin API",
	}
	cmd.AddCommand(
		newAdminUserAddCmd(cfg, jsonOutput),
		newAdminUserPasswdCmd(cfg, jsonOutput),
		newAdminUserListCmd(cfg, jsonOutput),
		newAdminUserSetDisabledCmd(cfg, jsonOutput, "disable", "Disable one admin account", true),
		newAdminUserSetDisabledCmd(cfg, jsonOutput, "enable", "Enable one admin account", false),
		newAdminUserDeleteCmd(cfg, jsonOutput),
	)
	return cmd
}

func newAdminUserAddCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:     "add <username>",
		Aliases: []string{"create"},
		Short:   "Create one admin account",
		Args:    requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, hash, err := readCredentials(args[0], passwordStdin)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			created, err := st.CreateAdminUser(cmd.Context(), username, hash, time.Now().UTC())
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(map[string]any{"id": created.ID, "username": created.Username})
			}
			return writePlain("created admin user %s (%s)\n", created.Username, created.ID)
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read password from stdin")
	return cmd
}

func newAdminUserPasswdCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Replace one admin account's password",
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, hash, err := readCredentials(args[0], passwordStdin)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			updated, err := st.SetUserPassword(cmd.Context(), username, hash, time.Now().UTC())
			if err != nil {
				return err
			}
			if !updated {
				return fmt.Errorf("admin user %s not found", username)
			}

			if *jsonOutput {
				return writeJSON(map[string]any{"username": username, "updated": true})
			}
			return writePlain("updated password for %s\n", username)
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read password from stdin")
	return cmd
}

func newAdminUserListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List provisioned admin accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			users, err := st.ListUsers(cmd.Context())
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(map[string]any{"count": len(users), "users": users})
			}
			if len(users) == 0 {
				return writePlain("no admin users configured\n")
			}
			for _, user := range users {
				status := "enabled"
				if user.Disabled {
					status = "disabled"
				}
				if err := writePlain("%s\t%s\t%s\n", user.Username, status, user.ID); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newAdminUserSetDisabledCmd(cfg *config.Config, jsonOutput *bool, name, short string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <username>",
		Short: short,
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := internalauth.NormalizeUsername(args[0])
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			user, err := st.SetUserDisabled(cmd.Context(), username, disabled, time.Now().UTC())
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("admin user %s not found", username)
			}

			if *jsonOutput {
				return writeJSON(map[string]any{"username": user.Username, "disabled": user.Disabled})
			}
			return writePlain("%s is now %s\n", user.Username, map[bool]string{true: "disabled", false: "enabled"}[user.Disabled])
		},
	}
}

func newAdminUserDeleteCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete one admin account",
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := internalauth.NormalizeUsername(args[0])
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			deleted, err := st.DeleteUser(cmd.Context(), username)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("admin user %s not found", username)
			}

			if *jsonOutput {
				return writeJSON(map[string]any{"username": username, "deleted": true})
			}
			return writePlain("deleted admin user %s\n", username)
		},
	}
}

// readCredentials normalizes the username and hashes a password read from
// stdin. Passwords never appear in argv.
func readCredentials(rawUsername string, passwordStdin bool) (username, hash string, err error) {
	if !passwordStdin {
		return "", "", fmt.Errorf("--password-stdin is required")
	}
	username, err = internalauth.NormalizeUsername(rawUsername)
	if err != nil {
		return "", "", err
	}
	passwordBytes, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", "", err
	}
	hash, err = internalauth.HashPassword(strings.TrimSpace(string(passwordBytes)))
	if err != nil {
		return "", "", err
	}
	return username, hash, nil
}
