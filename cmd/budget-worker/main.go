package main

import (
	"context"
	"errors"
	"os"

	"budgettracker/internal/amqp"
	"budgettracker/internal/backend"
	"budgettracker/internal/cli"
	"budgettracker/internal/log"
	"budgettracker/internal/sheets"
	"budgettracker/internal/sheets/google"
	"budgettracker/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)

	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the worker",
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err == nil {
		err = backendCfg.Validate()
	}
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	if backendCfg.Type == backend.MemoryBackend {
		logger.Warn("Worker running on the memory backend sees none of the server's records")
	}
	// The worker writes spent totals itself; those writes must not emit events.
	backendCfg.DisableEvents = true

	ctx, stop := cli.ShutdownContext(logger)
	defer stop()

	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := result.Close(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err.Error())
		}
	}()

	var mirror sheets.ExpenseMirror
	if cfg.SheetsEnabled() {
		client, err := google.New(ctx, google.Config{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			SheetName:          cfg.GoogleSheetName,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to create Sheets client", log.FieldError, err.Error())
			return
		}
		if err := client.EnsureHeader(ctx); err != nil {
			logger.Warn("Could not ensure sheet header", log.FieldError, err.Error())
		}
		mirror = client
		logger.Info("Expense mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Expense mirror disabled")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to connect to AMQP", log.FieldError, err.Error())
		return
	}
	defer amqpClient.Close()

	w := worker.NewSyncWorker(result.Stores.Budgets, result.Stores.Expenses, mirror)

	logger.Info("Budget worker started",
		"backend", string(backendCfg.Type),
		"queue", cfg.AMQPQueue)
	if err := amqpClient.ConsumeRecordChanged(ctx, w.HandleRecordChanged); err != nil &&
		!errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped with error", log.FieldError, err.Error())
		return
	}
	logger.Info("Budget worker stopped")
}
