package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cipulse-backend/internal/alerts"
	"cipulse-backend/internal/api"
	"cipulse-backend/internal/bus"
	"cipulse-backend/internal/config"
	"cipulse-backend/internal/insights"
	"cipulse-backend/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to db", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	repo := storage.NewRepository(store)

	var notifier alerts.Notifier
	if cfg.NATSURL != "" {
		publisher, err := bus.NewPublisher(cfg.NATSURL)
		if err != nil {
			logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer publisher.Close()
		notifier = publisher
	}

	handler := &api.Handler{
		Source:     repo,
		Evaluator:  alerts.NewEvaluator(repo, notifier, logger),
		Optimizer:  insights.NewOptimizer(),
		FetchLimit: cfg.FetchLimit,
		Threshold:  cfg.AnomalyThreshold,
		Timeout:    15 * time.Second,
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	logger.Info("insights server listening", slog.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
