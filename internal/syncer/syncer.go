package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cipulse-backend/internal/model"
)

// Provider supplies the run history for a repository, newest first.
type Provider interface {
	ListRuns(ctx context.Context, owner, repo string, max int) ([]model.RunRecord, error)
}

// RunStore persists fetched runs.
type RunStore interface {
	UpsertRun(ctx context.Context, repoKey string, run model.RunRecord) error
}

// AlertEvaluator is invoked once per cycle after new runs are persisted.
type AlertEvaluator interface {
	EvaluateRepo(ctx context.Context, repoKey string) (int, error)
}

type Result struct {
	RunsFetched int
	AlertsFired int
}

// Syncer runs one fetch → persist → evaluate cycle per repository. It has
// no retry policy of its own; the caller re-runs a whole cycle if needed,
// and deadlines arrive through ctx.
type Syncer struct {
	provider   Provider
	store      RunStore
	evaluator  AlertEvaluator
	logger     *slog.Logger
	fetchLimit int
}

func New(provider Provider, store RunStore, evaluator AlertEvaluator, logger *slog.Logger, fetchLimit int) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{provider: provider, store: store, evaluator: evaluator, logger: logger, fetchLimit: fetchLimit}
}

// SyncRepo synchronizes one "owner/name" repository. Alert evaluation only
// starts after every fetched run row is persisted, so the windowed metric
// queries see the new data.
func (s *Syncer) SyncRepo(ctx context.Context, repoKey string) (Result, error) {
	owner, name, found := strings.Cut(repoKey, "/")
	if !found || owner == "" || name == "" {
		return Result{}, fmt.Errorf("invalid repo key %q", repoKey)
	}

	runs, err := s.provider.ListRuns(ctx, owner, name, s.fetchLimit)
	if err != nil {
		return Result{}, fmt.Errorf("fetch runs for %s: %w", repoKey, err)
	}
	for _, run := range runs {
		if err := s.store.UpsertRun(ctx, repoKey, run); err != nil {
			return Result{}, fmt.Errorf("persist run %d: %w", run.ID, err)
		}
	}

	fired, err := s.evaluator.EvaluateRepo(ctx, repoKey)
	if err != nil {
		return Result{RunsFetched: len(runs)}, fmt.Errorf("evaluate alerts for %s: %w", repoKey, err)
	}
	s.logger.Info("repo synced",
		slog.String("repo", repoKey),
		slog.Int("runs", len(runs)),
		slog.Int("alertsFired", fired))
	return Result{RunsFetched: len(runs), AlertsFired: fired}, nil
}
