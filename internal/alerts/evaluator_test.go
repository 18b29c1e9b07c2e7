package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"cipulse-backend/internal/storage"
)

type fakeStore struct {
	rules        []storage.AlertRule
	recentEvents map[int64]bool

	failureRate    int
	failureRateOK  bool
	p95Duration    int
	p95DurationOK  bool
	p95QueueWait   int
	p95QueueWaitOK bool
	conclusions    []string

	metricErr error

	scopesSeen      []string
	streakLimitSeen int
	metricCalls     int
	inserted        []storage.AlertEvent
}

func (f *fakeStore) ListEnabledRulesForScopes(ctx context.Context, scopes []string) ([]storage.AlertRule, error) {
	f.scopesSeen = scopes
	return f.rules, nil
}

func (f *fakeStore) HasRecentEvent(ctx context.Context, ruleID int64, windowHours int) (bool, error) {
	return f.recentEvents[ruleID], nil
}

func (f *fakeStore) FailureRate(ctx context.Context, repoKey string, windowHours int) (int, bool, error) {
	f.metricCalls++
	return f.failureRate, f.failureRateOK, f.metricErr
}

func (f *fakeStore) P95DurationMinutes(ctx context.Context, repoKey string, windowHours int) (int, bool, error) {
	f.metricCalls++
	return f.p95Duration, f.p95DurationOK, f.metricErr
}

func (f *fakeStore) P95QueueWaitMinutes(ctx context.Context, repoKey string, windowHours int) (int, bool, error) {
	f.metricCalls++
	return f.p95QueueWait, f.p95QueueWaitOK, f.metricErr
}

func (f *fakeStore) RecentConclusions(ctx context.Context, repoKey string, limit int) ([]string, error) {
	f.metricCalls++
	f.streakLimitSeen = limit
	return f.conclusions, f.metricErr
}

func (f *fakeStore) InsertAlertEvent(ctx context.Context, event storage.AlertEvent) error {
	f.inserted = append(f.inserted, event)
	return nil
}

type fakeNotifier struct {
	published []storage.AlertEvent
	err       error
}

func (f *fakeNotifier) PublishAlert(event storage.AlertEvent, rule storage.AlertRule) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, event)
	return nil
}

func failureRateRule(id int64, threshold float64) storage.AlertRule {
	return storage.AlertRule{
		ID: id, Scope: "repo:acme/api", Metric: MetricFailureRate,
		Threshold: threshold, WindowHours: 24, Channel: "nats", Enabled: true,
	}
}

func TestEvaluateRepoFiresOnBreach(t *testing.T) {
	store := &fakeStore{
		rules:        []storage.AlertRule{failureRateRule(1, 20)},
		recentEvents: map[int64]bool{},
		failureRate:  30, failureRateOK: true,
	}
	fired, err := NewEvaluator(store, nil, nil).EvaluateRepo(context.Background(), "acme/api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected 1 fired got %d", fired)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 event got %d", len(store.inserted))
	}
	event := store.inserted[0]
	if event.Value != 30 {
		t.Fatalf("expected value 30 got %v", event.Value)
	}
	if event.RuleID == nil || *event.RuleID != 1 {
		t.Fatalf("expected rule id 1 got %v", event.RuleID)
	}
	var details map[string]any
	if err := json.Unmarshal(event.Details, &details); err != nil {
		t.Fatalf("details not json: %v", err)
	}
	if details["repo"] != "acme/api" {
		t.Fatalf("expected repo in details got %v", details)
	}
	eventID, _ := details["eventId"].(string)
	if _, err := uuid.Parse(eventID); err != nil {
		t.Fatalf("expected uuid event id got %q: %v", eventID, err)
	}
}

func TestEvaluateRepoResolvesScopes(t *testing.T) {
	store := &fakeStore{recentEvents: map[int64]bool{}}
	if _, err := NewEvaluator(store, nil, nil).EvaluateRepo(context.Background(), "acme/api"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.scopesSeen) != 2 || store.scopesSeen[0] != "repo:acme/api" || store.scopesSeen[1] != "org:acme" {
		t.Fatalf("expected repo and org scopes got %v", store.scopesSeen)
	}
}

func TestEvaluateRepoDedup(t *testing.T) {
	store := &fakeStore{
		rules:        []storage.AlertRule{failureRateRule(1, 20)},
		recentEvents: map[int64]bool{1: true},
		failureRate:  30, failureRateOK: true,
	}
	fired, err := NewEvaluator(store, nil, nil).EvaluateRepo(context.Background(), "acme/api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 0 {
		t.Fatalf("expected dedup to suppress fire got %d", fired)
	}
	// Dedup must skip before any metric recomputation.
	if store.metricCalls != 0 {
		t.Fatalf("expected no metric query after dedup hit got %d", store.metricCalls)
	}
}

func TestEvaluateRepoBelowThreshold(t *testing.T) {
	store := &fakeStore{
		rules:        []storage.AlertRule{failureRateRule(1, 50)},
		recentEvents: map[int64]bool{},
		failureRate:  30, failureRateOK: true,
	}
	fired, err := NewEvaluator(store, nil, nil).EvaluateRepo(context.Background(), "acme/api")
	if err != nil || fired != 0 {
		t.Fatalf("expected no fire got fired=%d err=%v", fired, err)
	}
	if len(store.inserted) != 0 {
		t.Fatalf("expected no inserts got %d", len(store.inserted))
	}
}

func TestEvaluateRepoSkipsUncomputable(t *testing.T) {
	store := &fakeStore{
		rules:        []storage.AlertRule{failureRateRule(1, 20)},
		recentEvents: map[int64]bool{},
		failureRateOK: false,
	}
	fired, err := NewEvaluator(store, nil, nil).EvaluateRepo(context.Background(), "acme/api")
	if err != nil || fired != 0 {
		t.Fatalf("expected silent skip got fired=%d err=%v", fired, err)
	}
}

func TestEvaluateRepoPropagatesStoreError(t *testing.T) {
	storeErr := errors.New("connection reset")
	store := &fakeStore{
		rules:        []storage.AlertRule{failureRateRule(1, 20)},
		recentEvents: map[int64]bool{},
		metricErr:    storeErr,
	}
	_, err := NewEvaluator(store, nil, nil).EvaluateRepo(context.Background(), "acme/api")
	if err == nil || !errors.Is(err, storeErr) {
		t.Fatalf("expected wrapped store error got %v", err)
	}
}

func TestEvaluateRepoSuccessStreak(t *testing.T) {
	rule := storage.AlertRule{
		ID: 7, Scope: "repo:acme/api", Metric: MetricSuccessStreak,
		Threshold: 3, WindowHours: 1, Channel: "email", Enabled: true,
	}
	store := &fakeStore{
		rules:        []storage.AlertRule{rule},
		recentEvents: map[int64]bool{},
		conclusions:  []string{"failure", "failure", "failure", "success", "failure"},
	}
	fired, err := NewEvaluator(store, nil, nil).EvaluateRepo(context.Background(), "acme/api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 1 || store.inserted[0].Value != 3 {
		t.Fatalf("expected streak 3 to fire got fired=%d events=%+v", fired, store.inserted)
	}
	// The streak scan is bounded by the lookback, not the rule window.
	if store.streakLimitSeen != 100 {
		t.Fatalf("expected lookback 100 got %d", store.streakLimitSeen)
	}
}

func TestEvaluateRepoStreakNoRuns(t *testing.T) {
	rule := storage.AlertRule{
		ID: 7, Scope: "repo:acme/api", Metric: MetricSuccessStreak,
		Threshold: 0, WindowHours: 1, Enabled: true,
	}
	store := &fakeStore{rules: []storage.AlertRule{rule}, recentEvents: map[int64]bool{}}
	fired, err := NewEvaluator(store, nil, nil).EvaluateRepo(context.Background(), "acme/api")
	if err != nil || fired != 0 {
		t.Fatalf("expected no fire without history got fired=%d err=%v", fired, err)
	}
}

func TestEvaluateRepoUnknownMetric(t *testing.T) {
	rule := storage.AlertRule{
		ID: 9, Scope: "repo:acme/api", Metric: "carbon_footprint",
		Threshold: 1, WindowHours: 1, Enabled: true,
	}
	store := &fakeStore{rules: []storage.AlertRule{rule}, recentEvents: map[int64]bool{}}
	fired, err := NewEvaluator(store, nil, nil).EvaluateRepo(context.Background(), "acme/api")
	if err != nil || fired != 0 {
		t.Fatalf("expected unknown metric skip got fired=%d err=%v", fired, err)
	}
}

func TestEvaluateRepoNotifierFailureDoesNotAffectCount(t *testing.T) {
	store := &fakeStore{
		rules:        []storage.AlertRule{failureRateRule(1, 20)},
		recentEvents: map[int64]bool{},
		failureRate:  30, failureRateOK: true,
	}
	notifier := &fakeNotifier{err: errors.New("nats down")}
	fired, err := NewEvaluator(store, notifier, nil).EvaluateRepo(context.Background(), "acme/api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 1 || len(store.inserted) != 1 {
		t.Fatalf("expected event despite notifier failure got fired=%d", fired)
	}
}

func TestEvaluateRepoNotifiesOnNatsChannel(t *testing.T) {
	emailRule := failureRateRule(1, 20)
	emailRule.Channel = "email"
	natsRule := failureRateRule(2, 20)
	store := &fakeStore{
		rules:        []storage.AlertRule{emailRule, natsRule},
		recentEvents: map[int64]bool{},
		failureRate:  30, failureRateOK: true,
	}
	notifier := &fakeNotifier{}
	fired, err := NewEvaluator(store, notifier, nil).EvaluateRepo(context.Background(), "acme/api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 2 {
		t.Fatalf("expected both rules to fire got %d", fired)
	}
	if len(notifier.published) != 1 {
		t.Fatalf("expected one nats notification got %d", len(notifier.published))
	}
}
