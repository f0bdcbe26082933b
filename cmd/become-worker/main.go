package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/tendant/become-image-pipeline/internal/config"
	"github.com/tendant/become-image-pipeline/internal/handlers"
	"github.com/tendant/become-image-pipeline/internal/logging"
	"github.com/tendant/become-image-pipeline/pkg/runner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create logger")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Loads the template, starts the engine and registers the workflow with DBOS when configured
	r, err := runner.New(context.Background(), runner.Options{
		Config:     cfg,
		Logger:     logger,
		Registerer: registry,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer r.Shutdown(10 * time.Second)

	handler := handlers.NewHandler(r, cfg.HTTPInputRoot, logger)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handlers.NewRouter(handler, registry),
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Bool("async", r.Async()).Msg("Become worker starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server stopped")
}
