// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	app "payout-ledger/internal"
	"payout-ledger/internal/util"

	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.NewApplication()
	if err := application.Initialize(ctx); err != nil {
		util.GetLogger().Fatal("failed to initialize application", zap.Error(err))
	}
	logger := application.Logger
	cfg := application.Config

	if err := application.Start(ctx); err != nil {
		logger.Fatal("failed to start background workers", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      application.HTTPHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
		exitCode = 1
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		exitCode = 1
	}

	_ = logger.Sync()
	os.Exit(exitCode)
}
