package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/shiprecon/internal/db"
	"github.com/rpattn/shiprecon/internal/logging"
)

func (a *app) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(db.MigrateUp), string(db.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := db.MigrateUp
			if len(args) == 1 {
				direction = db.MigrationDirection(args[0])
			}
			version, err := db.RunMigrations(a.cfg.Database, direction)
			if err != nil {
				return err
			}
			logging.FromContext(cmd.Context()).Info().
				Str("direction", string(direction)).
				Uint("version", version).
				Msg("Migrations applied")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return err
		},
	}
}
