package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"salesrecord/internal/amqp"
	"salesrecord/internal/backend"
	"salesrecord/internal/cli"
	"salesrecord/internal/config"
	applog "salesrecord/internal/log"
	gsheet "salesrecord/internal/sheets/google"
	"salesrecord/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadConfig((*config.Config).ValidateWorker)
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)

	logger.Info("Starting salesrecord-worker")

	ctx, stop := cli.ShutdownContext(logger)
	defer stop()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	// The worker only reads the store; it consumes rather than publishes.
	bcfg.AMQPURL = ""
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Slog()).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer res.Close()

	sheetsClient, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	mirror := worker.NewMirrorWorker(res.Store, cfg.Collection, sheetsClient,
		logger.WithComponent(applog.ComponentWorker).Slog())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeRecordChanged(gctx, mirror.HandleRecordChanged)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return mirror.Run(gctx, cfg.SyncInterval)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
