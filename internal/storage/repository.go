package storage

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"cipulse-backend/internal/model"
)

// Repository exposes the typed read/write operations the engine consumes.
// Schema management lives outside this module; the queries below assume the
// workflow_runs, alert_rules and alert_events tables exist.
type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

// UpsertRun persists one provider run row for a repository.
func (r *Repository) UpsertRun(ctx context.Context, repoKey string, run model.RunRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO workflow_runs
			(repo_key, run_id, created_at, started_at, completed_at, status, conclusion, branch, run_attempt, actor, commit_message, commit_author)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (repo_key, run_id) DO UPDATE SET
			started_at=EXCLUDED.started_at,
			completed_at=EXCLUDED.completed_at,
			status=EXCLUDED.status,
			conclusion=EXCLUDED.conclusion,
			run_attempt=EXCLUDED.run_attempt`,
		repoKey, run.ID, run.CreatedAt, run.StartedAt, run.CompletedAt, run.Status,
		nullIfEmpty(run.Conclusion), run.Branch, run.RunAttempt,
		nullIfEmpty(run.Actor), nullIfEmpty(run.CommitMessage), nullIfEmpty(run.CommitAuthor))
	return err
}

// ListEnabledRulesForScopes returns the enabled alert rules whose scope is
// one of the given scopes.
func (r *Repository) ListEnabledRulesForScopes(ctx context.Context, scopes []string) ([]AlertRule, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, scope, metric, threshold, window_hours, channel, COALESCE(destination, ''), enabled, created_at
		FROM alert_rules WHERE enabled = true AND scope = ANY($1)
		ORDER BY id`, scopes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []AlertRule{}
	for rows.Next() {
		var rule AlertRule
		if err := rows.Scan(&rule.ID, &rule.Scope, &rule.Metric, &rule.Threshold,
			&rule.WindowHours, &rule.Channel, &rule.Destination, &rule.Enabled, &rule.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rule)
	}
	return results, rows.Err()
}

// GetRule returns one alert rule by id, or ErrNotFound.
func (r *Repository) GetRule(ctx context.Context, id int64) (AlertRule, error) {
	var rule AlertRule
	err := r.Store.Pool.QueryRow(ctx, `
		SELECT id, scope, metric, threshold, window_hours, channel, COALESCE(destination, ''), enabled, created_at
		FROM alert_rules WHERE id = $1`, id).Scan(&rule.ID, &rule.Scope, &rule.Metric, &rule.Threshold,
		&rule.WindowHours, &rule.Channel, &rule.Destination, &rule.Enabled, &rule.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AlertRule{}, ErrNotFound
	}
	return rule, err
}

// HasRecentEvent reports whether the rule already fired within the last
// windowHours. This is the dedup read the evaluator issues before anything
// else for a rule.
func (r *Repository) HasRecentEvent(ctx context.Context, ruleID int64, windowHours int) (bool, error) {
	var exists bool
	err := r.Store.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM alert_events
			WHERE rule_id = $1 AND fired_at > now() - make_interval(hours => $2))`,
		ruleID, windowHours).Scan(&exists)
	return exists, err
}

// FailureRate returns failed/completed as a percentage rounded to the
// nearest integer, over the window. ok is false when no completed runs
// exist in the window.
func (r *Repository) FailureRate(ctx context.Context, repoKey string, windowHours int) (int, bool, error) {
	var failed, total int
	err := r.Store.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE conclusion = 'failure'), COUNT(*)
		FROM workflow_runs
		WHERE repo_key = $1 AND status = 'completed'
		  AND created_at > now() - make_interval(hours => $2)`,
		repoKey, windowHours).Scan(&failed, &total)
	if err != nil {
		return 0, false, err
	}
	if total == 0 {
		return 0, false, nil
	}
	return int(math.Round(float64(failed) / float64(total) * 100)), true, nil
}

// P95DurationMinutes returns the in-window 95th-percentile run duration in
// whole minutes. ok is false when no timed runs exist in the window.
func (r *Repository) P95DurationMinutes(ctx context.Context, repoKey string, windowHours int) (int, bool, error) {
	return r.p95Minutes(ctx, repoKey, windowHours, `completed_at - started_at`, `completed_at IS NOT NULL AND started_at IS NOT NULL`)
}

// P95QueueWaitMinutes returns the in-window 95th-percentile queue wait in
// whole minutes. ok is false when no started runs exist in the window.
func (r *Repository) P95QueueWaitMinutes(ctx context.Context, repoKey string, windowHours int) (int, bool, error) {
	return r.p95Minutes(ctx, repoKey, windowHours, `started_at - created_at`, `started_at IS NOT NULL`)
}

func (r *Repository) p95Minutes(ctx context.Context, repoKey string, windowHours int, interval, guard string) (int, bool, error) {
	var seconds *float64
	err := r.Store.Pool.QueryRow(ctx, `
		SELECT percentile_cont(0.95) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM (`+interval+`)))
		FROM workflow_runs
		WHERE repo_key = $1 AND `+guard+`
		  AND created_at > now() - make_interval(hours => $2)`,
		repoKey, windowHours).Scan(&seconds)
	if err != nil {
		return 0, false, err
	}
	if seconds == nil {
		return 0, false, nil
	}
	return int(math.Round(*seconds / 60)), true, nil
}

// RecentConclusions returns the conclusions of the most recent completed
// runs, newest first, up to limit.
func (r *Repository) RecentConclusions(ctx context.Context, repoKey string, limit int) ([]string, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT COALESCE(conclusion, '') FROM workflow_runs
		WHERE repo_key = $1 AND status = 'completed'
		ORDER BY created_at DESC LIMIT $2`, repoKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var conclusion string
		if err := rows.Scan(&conclusion); err != nil {
			return nil, err
		}
		results = append(results, conclusion)
	}
	return results, rows.Err()
}

// InsertAlertEvent appends one fired event.
func (r *Repository) InsertAlertEvent(ctx context.Context, event AlertEvent) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_events (rule_id, scope, metric, value, fired_at, details)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		event.RuleID, event.Scope, event.Metric, event.Value, event.FiredAt, event.Details)
	return err
}

// ListRecentEvents returns the newest alert events for a scope list, for
// the read API.
func (r *Repository) ListRecentEvents(ctx context.Context, scopes []string, limit int) ([]AlertEvent, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, rule_id, scope, metric, value, fired_at, details
		FROM alert_events WHERE scope = ANY($1)
		ORDER BY fired_at DESC LIMIT $2`, scopes, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []AlertEvent{}
	for rows.Next() {
		var event AlertEvent
		if err := rows.Scan(&event.ID, &event.RuleID, &event.Scope, &event.Metric,
			&event.Value, &event.FiredAt, &event.Details); err != nil {
			return nil, err
		}
		results = append(results, event)
	}
	return results, rows.Err()
}

// ListRuns returns the most recent runs for a repository, newest first.
func (r *Repository) ListRuns(ctx context.Context, repoKey string, limit int) ([]model.RunRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT run_id, created_at, started_at, completed_at, status, COALESCE(conclusion, ''),
		       branch, run_attempt, COALESCE(actor, ''), COALESCE(commit_message, ''), COALESCE(commit_author, '')
		FROM workflow_runs WHERE repo_key = $1
		ORDER BY created_at DESC LIMIT $2`, repoKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []model.RunRecord{}
	for rows.Next() {
		var run model.RunRecord
		var started, completed *time.Time
		if err := rows.Scan(&run.ID, &run.CreatedAt, &started, &completed, &run.Status,
			&run.Conclusion, &run.Branch, &run.RunAttempt, &run.Actor,
			&run.CommitMessage, &run.CommitAuthor); err != nil {
			return nil, err
		}
		run.StartedAt = started
		run.CompletedAt = completed
		results = append(results, run)
	}
	return results, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
