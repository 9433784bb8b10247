package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"budgettracker/internal/backend"
	"budgettracker/internal/cli"
	apphttp "budgettracker/internal/http"
	"budgettracker/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	if err := backendCfg.Validate(); err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}

	ctx, stop := cli.ShutdownContext(logger)
	defer stop()

	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to create backend",
			log.FieldError, err.Error(),
			"backend", string(backendCfg.Type))
		os.Exit(1)
	}
	defer func() {
		if err := result.Close(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err.Error())
		}
	}()

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		Budgets:            result.Stores.Budgets,
		Expenses:           result.Stores.Expenses,
		Logger:             logger.WithComponent(log.ComponentHTTP),
		Backend:            string(backendCfg.Type),
		Version:            version,
		StoreTimeout:       cfg.StoreTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		FrontendURL:        cfg.FrontendURL,
		TrustedProxies:     cfg.TrustedProxies,
		AuthJWTSecret:      cfg.AuthJWTSecret,
		AuthRequired:       cfg.AuthRequired,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server",
			"addr", srv.Addr,
			"backend", string(backendCfg.Type),
			"version", version,
			"events", cfg.AMQPEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", log.FieldError, err.Error())
		return
	}
	logger.Info("Server stopped")
}
