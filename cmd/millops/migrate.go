package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"millops/internal/database"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Apply or roll back schema migrations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}

		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		switch direction {
		case "up":
			err = database.Migrate(db)
		case "down":
			if migrateSteps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			err = database.MigrateDown(db, migrateSteps)
		default:
			return fmt.Errorf("unknown direction %q: want up or down", direction)
		}
		if err != nil {
			return err
		}

		version, dirty, err := database.SchemaVersion(db)
		if err != nil {
			return err
		}
		logger.Info("schema migrated", zap.String("direction", direction), zap.Uint("version", version), zap.Bool("dirty", dirty))
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%v)\n", version, dirty)
		return nil
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back with down")
}
