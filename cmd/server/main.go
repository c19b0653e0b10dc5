// Package main runs the Centace platform API: session timers, notification
// sync, currency rates, error-log intake and the diagnostic routes.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/Centace/centace/internal/app"
	"github.com/Centace/centace/internal/app/httpapi"
	"github.com/Centace/centace/internal/config"
	"github.com/Centace/centace/pkg/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		logger.NewDefault("server").WithError(err).Fatal("load config")
	}

	log := logger.New("centace", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log.WithField("environment", cfg.App.Environment).
		WithField("version", cfg.App.Version).
		Info("starting Centace API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.Options{}, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewHandler(application),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
		os.Exit(1)
	}
	log.Info("stopped")
}
