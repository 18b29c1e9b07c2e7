package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cipulse-backend/internal/storage"
)

// Metric names an alert rule may reference.
const (
	MetricFailureRate   = "failure_rate"
	MetricDurationP95   = "duration_p95"
	MetricQueueWaitP95  = "queue_wait_p95"
	MetricSuccessStreak = "success_streak"
)

// streakLookback bounds the success_streak scan; the rule's window_hours
// does not apply to this metric.
const streakLookback = 100

// Store is the slice of the persistent store the evaluator needs.
type Store interface {
	ListEnabledRulesForScopes(ctx context.Context, scopes []string) ([]storage.AlertRule, error)
	HasRecentEvent(ctx context.Context, ruleID int64, windowHours int) (bool, error)
	FailureRate(ctx context.Context, repoKey string, windowHours int) (int, bool, error)
	P95DurationMinutes(ctx context.Context, repoKey string, windowHours int) (int, bool, error)
	P95QueueWaitMinutes(ctx context.Context, repoKey string, windowHours int) (int, bool, error)
	RecentConclusions(ctx context.Context, repoKey string, limit int) ([]string, error)
	InsertAlertEvent(ctx context.Context, event storage.AlertEvent) error
}

// Notifier delivers fired events to a notification channel. Delivery
// failures must not affect evaluation.
type Notifier interface {
	PublishAlert(event storage.AlertEvent, rule storage.AlertRule) error
}

// Evaluator checks every enabled alert rule in scope for a repository and
// fires events for breached thresholds, upholding the no-duplicate-within-
// window contract.
type Evaluator struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

func NewEvaluator(store Store, notifier Notifier, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, notifier: notifier, logger: logger}
}

// EvaluateRepo runs all enabled rules for the repo and org scopes of
// repoKey and returns the number of newly fired events. A rule whose
// metric yields no rows is skipped; a store failure aborts the remaining
// rules and propagates. Per rule the order is strict: dedup read, metric
// read, conditional insert.
func (e *Evaluator) EvaluateRepo(ctx context.Context, repoKey string) (int, error) {
	scopes := ScopesForRepo(repoKey)
	rules, err := e.store.ListEnabledRulesForScopes(ctx, scopes)
	if err != nil {
		return 0, fmt.Errorf("list rules: %w", err)
	}

	fired := 0
	for _, rule := range rules {
		recent, err := e.store.HasRecentEvent(ctx, rule.ID, rule.WindowHours)
		if err != nil {
			return fired, fmt.Errorf("dedup check rule %d: %w", rule.ID, err)
		}
		if recent {
			continue
		}

		value, ok, err := e.computeMetric(ctx, repoKey, rule)
		if err != nil {
			return fired, fmt.Errorf("compute %s for rule %d: %w", rule.Metric, rule.ID, err)
		}
		if !ok || float64(value) < rule.Threshold {
			continue
		}

		if err := e.fire(ctx, repoKey, rule, value); err != nil {
			return fired, fmt.Errorf("insert event for rule %d: %w", rule.ID, err)
		}
		fired++
	}
	return fired, nil
}

func (e *Evaluator) computeMetric(ctx context.Context, repoKey string, rule storage.AlertRule) (int, bool, error) {
	switch rule.Metric {
	case MetricFailureRate:
		return e.store.FailureRate(ctx, repoKey, rule.WindowHours)
	case MetricDurationP95:
		return e.store.P95DurationMinutes(ctx, repoKey, rule.WindowHours)
	case MetricQueueWaitP95:
		return e.store.P95QueueWaitMinutes(ctx, repoKey, rule.WindowHours)
	case MetricSuccessStreak:
		conclusions, err := e.store.RecentConclusions(ctx, repoKey, streakLookback)
		if err != nil {
			return 0, false, err
		}
		if len(conclusions) == 0 {
			return 0, false, nil
		}
		streak := 0
		for _, conclusion := range conclusions {
			if conclusion != "failure" {
				break
			}
			streak++
		}
		return streak, true, nil
	default:
		// Unknown metrics are treated as uncomputable, not as errors, so a
		// newer rule type does not break older deployments.
		e.logger.Warn("unknown alert metric", slog.String("metric", rule.Metric), slog.Int64("ruleId", rule.ID))
		return 0, false, nil
	}
}

func (e *Evaluator) fire(ctx context.Context, repoKey string, rule storage.AlertRule, value int) error {
	// The eventId ties the stored event to its NATS message and log lines.
	// The map holds only scalars; Marshal cannot fail on it.
	details, _ := json.Marshal(map[string]any{
		"eventId":     uuid.NewString(),
		"repo":        repoKey,
		"metric":      rule.Metric,
		"threshold":   rule.Threshold,
		"value":       value,
		"windowHours": rule.WindowHours,
	})
	ruleID := rule.ID
	event := storage.AlertEvent{
		RuleID:  &ruleID,
		Scope:   rule.Scope,
		Metric:  rule.Metric,
		Value:   float64(value),
		FiredAt: time.Now().UTC(),
		Details: details,
	}
	if err := e.store.InsertAlertEvent(ctx, event); err != nil {
		return err
	}
	if e.notifier != nil && rule.Channel == "nats" {
		if err := e.notifier.PublishAlert(event, rule); err != nil {
			e.logger.Error("alert notification failed",
				slog.Int64("ruleId", rule.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}
