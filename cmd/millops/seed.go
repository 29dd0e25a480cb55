package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"millops/internal/auth"
	"millops/internal/dashboard"
	"millops/internal/ledger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the chart of accounts, permissions, default dashboard and admin user",
	Long: `seed is idempotent: existing accounts and users are left alone and the
default permission table is only written when none exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		admin := cfg.Settings.AdminUser
		created, err := auth.EnsureAdmin(ctx, db, admin.Username, admin.Password)
		if err != nil {
			return err
		}
		accounts, err := ledger.SeedAccounts(ctx, db, cfg.Settings.Accounts)
		if err != nil {
			return err
		}
		if err := auth.InitPermissions(ctx, db, auth.NewPermCache()); err != nil {
			return err
		}
		widgets, err := dashboard.SetDefaults(ctx, db, cfg.Settings.DefaultWidgets)
		if err != nil {
			return err
		}

		logger.Info("seed complete",
			zap.Bool("admin_created", created),
			zap.Int("accounts_added", accounts),
			zap.Int("widgets", len(widgets)))
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d accounts added, admin created=%v\n", cfg.Settings.Company, accounts, created)
		return nil
	},
}
