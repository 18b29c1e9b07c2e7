package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"cipulse-backend/internal/model"
)

type fakeProvider struct {
	runs []model.RunRecord
	err  error
}

func (f *fakeProvider) ListRuns(ctx context.Context, owner, repo string, max int) ([]model.RunRecord, error) {
	return f.runs, f.err
}

type fakeRunStore struct {
	upserts []int64
	err     error
}

func (f *fakeRunStore) UpsertRun(ctx context.Context, repoKey string, run model.RunRecord) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, run.ID)
	return nil
}

type fakeAlertEvaluator struct {
	fired  int
	err    error
	called bool
}

func (f *fakeAlertEvaluator) EvaluateRepo(ctx context.Context, repoKey string) (int, error) {
	f.called = true
	return f.fired, f.err
}

func sampleRuns(n int64) []model.RunRecord {
	runs := []model.RunRecord{}
	for i := int64(1); i <= n; i++ {
		runs = append(runs, model.RunRecord{ID: i, CreatedAt: time.Now(), Status: model.StatusCompleted, Branch: "main", RunAttempt: 1})
	}
	return runs
}

func TestSyncRepo(t *testing.T) {
	store := &fakeRunStore{}
	evaluator := &fakeAlertEvaluator{fired: 1}
	engine := New(&fakeProvider{runs: sampleRuns(3)}, store, evaluator, nil, 100)

	result, err := engine.SyncRepo(context.Background(), "acme/api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RunsFetched != 3 || result.AlertsFired != 1 {
		t.Fatalf("expected 3 runs and 1 alert got %+v", result)
	}
	if len(store.upserts) != 3 {
		t.Fatalf("expected 3 upserts got %d", len(store.upserts))
	}
}

func TestSyncRepoInvalidKey(t *testing.T) {
	engine := New(&fakeProvider{}, &fakeRunStore{}, &fakeAlertEvaluator{}, nil, 100)
	if _, err := engine.SyncRepo(context.Background(), "noslash"); err == nil {
		t.Fatalf("expected error for invalid repo key")
	}
}

func TestSyncRepoPersistFailureSkipsEvaluation(t *testing.T) {
	storeErr := errors.New("insert failed")
	evaluator := &fakeAlertEvaluator{}
	engine := New(&fakeProvider{runs: sampleRuns(1)}, &fakeRunStore{err: storeErr}, evaluator, nil, 100)

	_, err := engine.SyncRepo(context.Background(), "acme/api")
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected persist error got %v", err)
	}
	if evaluator.called {
		t.Fatalf("expected evaluation to be skipped after persist failure")
	}
}

func TestSyncRepoFetchFailure(t *testing.T) {
	fetchErr := errors.New("api unavailable")
	engine := New(&fakeProvider{err: fetchErr}, &fakeRunStore{}, &fakeAlertEvaluator{}, nil, 100)
	if _, err := engine.SyncRepo(context.Background(), "acme/api"); !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error got %v", err)
	}
}
