// Package main initializes and starts the runtime HTTP server, setting up
// configuration, logging, the document store, the session layer and the
// background sweeper.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/ozon/internal/app"
	"github.com/atinyakov/ozon/internal/config"
	"github.com/atinyakov/ozon/internal/db"
	"github.com/atinyakov/ozon/internal/logger"
	"github.com/atinyakov/ozon/internal/server/handler/http"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect the store, user directory and session cache.
	a, err := app.New(ctx, options, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot init runtime", zap.Error(err))
	}
	defer func() { _ = a.Close(context.Background()) }()

	if err := a.Bootstrap(ctx); err != nil {
		zapLogger.Fatal("cannot bootstrap models", zap.Error(err))
	}

	// Remove expired records and sessions in the background.
	db.StartSweeper(ctx, a.Data, a.Sessions,
		options.SweepInterval.Duration,
		options.SessionGrace.Duration,
		zapLogger,
	)

	// Build the router with middleware and routes.
	router := http.NewRouter(
		&http.AuthHandler{Auth: a.Auth, Sessions: a.Sessions, Log: zapLogger},
		&http.RecordHandler{Data: a.Data, Log: zapLogger},
		&http.AdminHandler{Data: a.Data, Log: zapLogger},
		a.Sessions,
		zapLogger,
	)

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	zapLogger.Info("starting server",
		zap.String("addr", options.Port),
		zap.String("store", options.StoreBackend),
		zap.Bool("tls", options.TLS()),
	)
	if options.TLS() {
		err = server.ListenAndServeTLS(options.TLSCertFile, options.TLSKeyFile)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("failed to start server", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}
