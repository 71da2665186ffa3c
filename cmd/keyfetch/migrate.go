package main

import (
	"fmt"

	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/keyfetch/internal/adapter/driven/sqlite"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long:  "Open the configured database, apply every pending schema migration, and print the resulting version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context(), globalCfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := sqliteadapter.MigrationVersion(db.Writer)
			if err != nil {
				return err
			}
			if dirty {
				return fmt.Errorf("database %s is at dirty migration version %d", globalCfg.DBPath, version)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is at schema version %d\n", globalCfg.DBPath, version)
			return nil
		},
	}
}
