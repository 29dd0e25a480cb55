// Command millops runs the mill operations API, its background jobs and
// the event worker.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"millops/internal/config"
	"millops/internal/database"
	"millops/internal/events"
	"millops/internal/logging"
	"millops/internal/websocket"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "millops",
	Short: "Mill operations: purchasing, ledger, stock, fleet and wheat shipments",
	Long: `millops serves the JSON API for a flour mill's back office.

Configuration comes from the environment (a .env file is loaded when
present) and an optional YAML settings file named by MILLOPS_SETTINGS.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(backupCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openDB opens the configured database and brings its schema up to date.
func openDB() (*sql.DB, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openPublisher returns the event publisher: websocket broadcast backed by
// AMQP when a broker URL is configured. hub may be nil outside serve.
func openPublisher(hub *websocket.Hub) (events.Publisher, error) {
	b := &events.Broadcaster{Hub: hub}
	if cfg.AMQPURL == "" {
		logger.Info("no AMQP URL configured, events stay in process")
		return b, nil
	}
	client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.Named("events"))
	if err != nil {
		return nil, err
	}
	b.Next = client
	return b, nil
}
