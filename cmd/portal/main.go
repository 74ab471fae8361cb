package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splunk/learning-labs-portal/internal/app/bootstrap"
	httpx "github.com/splunk/learning-labs-portal/internal/http"
	"github.com/splunk/learning-labs-portal/pkg/config"
	"github.com/splunk/learning-labs-portal/pkg/logger"
)

func main() {
	cfg, err := config.LoadPortalConfig()
	if err != nil {
		logger.New("portal", logger.ParseLevel("info")).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("portal", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, prometheus.DefaultRegisterer, log)
	if err != nil {
		log.Error("failed to initialise deployment service", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Docker.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := app.RestartOnBoot(ctx, cfg, log); err != nil {
			log.Error("restarting docs failed", "error", err)
		}
	}()

	router := httpx.New(log, map[string]httpx.Pinger{
		"docker": app.Docker,
		"store":  app.Manager,
	}, httpx.WithMetricsAuth(cfg.MetricsUser, cfg.MetricsPasswordHash))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("portal ops server starting", "addr", cfg.Addr, "datastore", cfg.Datastore)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("portal ops server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
