package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func requireExactlyArgs(n int, message string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%s", message)
		}
		return nil
	}
}
