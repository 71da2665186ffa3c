package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/keyfetch/internal/adapter/driven/aesgcm"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a vault master key",
		Long: `Print a random 32-byte master key, hex encoded, suitable for KEYFETCH_SECRET_KEY.
Losing the key makes every stored credential unreadable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := aesgcm.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
