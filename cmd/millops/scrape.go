package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"millops/internal/scraper"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run every configured wheat shipment source once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pub, err := openPublisher(nil)
		if err != nil {
			return err
		}
		defer pub.Close()

		runs, err := scraper.New(db, pub, logger.Named("scraper")).RunAll(ctx, cfg.Settings.ScrapeSources)
		for _, run := range runs {
			status := "ok"
			if run.Error != "" {
				status = run.Error
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s parsed=%d skipped=%d %s\n", run.Source, run.RowsParsed, run.RowsSkipped, status)
		}
		return err
	},
}
