package main

import (
	"errors"

	"github.com/spf13/cobra"

	"millops/internal/events"
	"millops/internal/notify"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume events from the broker and write notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.AMQPURL == "" {
			return errors.New("worker needs AMQP_URL")
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.Named("events"))
		if err != nil {
			return err
		}
		defer client.Close()

		logger.Info("worker consuming")
		return client.Consume(ctx, notify.Handler(db, logger.Named("notify")))
	},
}
