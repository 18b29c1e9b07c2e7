package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cipulse-backend/internal/alerts"
	"cipulse-backend/internal/bus"
	"cipulse-backend/internal/config"
	"cipulse-backend/internal/provider"
	"cipulse-backend/internal/storage"
	"cipulse-backend/internal/syncer"
)

type targets struct {
	mu    sync.Mutex
	repos []string
}

func (t *targets) set(repos []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.repos = append([]string(nil), repos...)
}

func (t *targets) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.repos...)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
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

	client := provider.NewClient(ctx, cfg.GitHubToken)
	evaluator := alerts.NewEvaluator(repo, notifier, logger)
	engine := syncer.New(client, repo, evaluator, logger, cfg.FetchLimit)

	repos := &targets{}
	repos.set(cfg.Repos)
	if configPath != "" {
		watcher, err := config.Watch(configPath, logger, func(next config.Config) {
			repos.set(next.Repos)
		})
		if err != nil {
			logger.Warn("config watcher unavailable", slog.String("error", err.Error()))
		} else {
			defer watcher.Close()
		}
	}

	interval := time.Duration(cfg.SyncIntervalSeconds) * time.Second
	jobTimeout := interval
	if jobTimeout > 5*time.Minute {
		jobTimeout = 5 * time.Minute
	}

	syncAll := func() {
		for _, repoKey := range repos.list() {
			jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
			if _, err := engine.SyncRepo(jobCtx, repoKey); err != nil {
				logger.Error("sync failed", slog.String("repo", repoKey), slog.String("error", err.Error()))
			}
			cancel()
		}
	}

	logger.Info("sync worker started",
		slog.Int("repos", len(repos.list())),
		slog.Duration("interval", interval))
	syncAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-ticker.C:
			syncAll()
		case <-shutdown:
			logger.Info("sync worker stopping")
			return
		}
	}
}
