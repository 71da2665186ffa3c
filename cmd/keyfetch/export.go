package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/keyfetch/internal/application"
)

func newExportCmd() *cobra.Command {
	var (
		owner  string
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an owner's decrypted credentials",
		Long: `Decrypt every live credential of an owner and write them as json, env or csv.
Without --out the export is printed to stdout. With --out the file is replaced
atomically and created with mode 0600.`,
		Example: `  keyfetch export --owner user-1 --format env --out .env.keys
  keyfetch export --owner user-1 --format csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := application.ParseExportFormat(format)
			if err != nil {
				return err
			}

			a, err := buildApp(cmd.Context(), globalCfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.close(ctx)
			}()

			data, err := a.vault.Export(cmd.Context(), owner, f)
			if err != nil {
				return err
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			if err := atomic.WriteFile(out, bytes.NewReader(data)); err != nil {
				return fmt.Errorf("write export %s: %w", out, err)
			}
			if err := os.Chmod(out, 0o600); err != nil {
				return fmt.Errorf("restrict export %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s)\n", out, humanize.Bytes(uint64(len(data))))
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id whose vault is exported (required)")
	cmd.Flags().StringVar(&format, "format", "json", "export format: json, env or csv")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file; stdout when empty")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
