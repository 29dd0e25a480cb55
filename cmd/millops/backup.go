package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"millops/internal/database"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the database and prune old backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		info, err := database.Backup(cmd.Context(), db, cfg.BackupDir)
		if err != nil {
			return err
		}
		removed, err := database.PruneBackups(cfg.BackupDir, cfg.BackupRetention)
		if err != nil {
			return err
		}
		logger.Info("backup written", zap.String("file", info.Filename), zap.Int64("size", info.Size), zap.Strings("pruned", removed))
		fmt.Fprintln(cmd.OutOrStdout(), info.Filename)
		return nil
	},
}
