package main

import (
	"github.com/spf13/cobra"

	"portfolio-cms/internal/schema"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the auth tables and the collection tables",
	Long: `Create the auth tables and, when backend.driver is sql, create or alter
one table per collection. Existing columns are never dropped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		reg := schema.Default()
		if err := migrate(ctx, db, reg); err != nil {
			return err
		}
		logger.Info().Int("collections", len(reg.All())).Str("backend", cfg.Backend.Driver).Msg("migration complete")
		return nil
	},
}
