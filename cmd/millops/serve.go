package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"millops/internal/auth"
	"millops/internal/notify"
	"millops/internal/scraper"
	"millops/internal/server"
	"millops/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the scraper and notifier in the background",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	pc := auth.NewPermCache()
	if err := auth.InitPermissions(ctx, db, pc); err != nil {
		return err
	}
	admin := cfg.Settings.AdminUser
	if created, err := auth.EnsureAdmin(ctx, db, admin.Username, admin.Password); err != nil {
		return err
	} else if created {
		logger.Warn("created bootstrap admin user; change its password", zap.String("username", admin.Username))
	}

	taxRate, err := decimal.NewFromString(cfg.Settings.DefaultTaxRate)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(logger.Named("ws"))
	pub, err := openPublisher(hub)
	if err != nil {
		return err
	}
	defer pub.Close()

	scr := scraper.New(db, pub, logger.Named("scraper"))
	app := &server.App{
		DB:             db,
		Hub:            hub,
		Events:         pub,
		PermCache:      pc,
		Scraper:        scr,
		Config:         cfg,
		Logger:         logger.Named("http"),
		DefaultTaxRate: taxRate,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(ctx, ":"+cfg.Port, app.Router(), logger.Named("http"))
	})
	g.Go(func() error {
		return scr.Loop(ctx, cfg.Settings.ScrapeSources, cfg.ScrapeInterval)
	})
	g.Go(func() error {
		return notify.Run(ctx, db, pub, logger.Named("notify"), cfg.NotifyInterval, cfg.Settings.OverdueDays)
	})
	g.Go(func() error {
		purgeSessions(ctx, db)
		return nil
	})
	return g.Wait()
}

// purgeSessions deletes expired sessions hourly until ctx is done.
func purgeSessions(ctx context.Context, db *sql.DB) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if n, err := auth.PurgeExpiredSessions(ctx, db); err != nil {
			logger.Error("session purge failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("purged expired sessions", zap.Int64("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
