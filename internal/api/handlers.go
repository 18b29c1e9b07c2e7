package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"cipulse-backend/internal/alerts"
	"cipulse-backend/internal/insights"
	"cipulse-backend/internal/model"
	"cipulse-backend/internal/storage"
)

// RunSource is the read surface the handlers need from the store.
type RunSource interface {
	ListRuns(ctx context.Context, repoKey string, limit int) ([]model.RunRecord, error)
	ListRecentEvents(ctx context.Context, scopes []string, limit int) ([]storage.AlertEvent, error)
	GetRule(ctx context.Context, id int64) (storage.AlertRule, error)
}

// Evaluator triggers an on-demand alert evaluation.
type Evaluator interface {
	EvaluateRepo(ctx context.Context, repoKey string) (int, error)
}

type Handler struct {
	Source     RunSource
	Evaluator  Evaluator
	Optimizer  *insights.Optimizer
	FetchLimit int
	Threshold  float64
	Timeout    time.Duration
}

type errorResponse struct {
	Ok      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/api/rules/{id}", h.getRule)
	r.Route("/api/repos/{owner}/{repo}", func(r chi.Router) {
		r.Get("/dora", h.getDora)
		r.Get("/anomalies", h.getAnomalies)
		r.Get("/tips", h.getTips)
		r.Get("/alerts", h.getAlerts)
		r.Post("/alerts/evaluate", h.postEvaluate)
	})
	return r
}

func (h *Handler) repoKey(req *http.Request) string {
	return chi.URLParam(req, "owner") + "/" + chi.URLParam(req, "repo")
}

func (h *Handler) loadRuns(req *http.Request) ([]model.RunRecord, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(req.Context(), h.timeout())
	runs, err := h.Source.ListRuns(ctx, h.repoKey(req), h.FetchLimit)
	return runs, cancel, err
}

func (h *Handler) getDora(w http.ResponseWriter, req *http.Request) {
	runs, cancel, err := h.loadRuns(req)
	defer cancel()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}
	writeJSON(w, http.StatusOK, insights.CalculateDora(runs))
}

func (h *Handler) getAnomalies(w http.ResponseWriter, req *http.Request) {
	runs, cancel, err := h.loadRuns(req)
	defer cancel()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}
	response := map[string]any{
		"anomalies": insights.DetectAnomalies(runs, h.Threshold),
	}
	baselines := map[string]insights.Baseline{}
	for _, metric := range []insights.Metric{insights.MetricDuration, insights.MetricQueueWait} {
		if baseline, ok := insights.ComputeBaseline(runs, metric, h.Threshold); ok {
			baselines[string(metric)] = baseline
		}
	}
	response["baselines"] = baselines
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) getTips(w http.ResponseWriter, req *http.Request) {
	runs, cancel, err := h.loadRuns(req)
	defer cancel()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tips": h.Optimizer.Evaluate(runs)})
}

func (h *Handler) getAlerts(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), h.timeout())
	defer cancel()
	events, err := h.Source.ListRecentEvents(ctx, alerts.ScopesForRepo(h.repoKey(req)), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": toEventViews(events)})
}

func (h *Handler) getRule(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), h.timeout())
	defer cancel()
	rule, err := h.Source.GetRule(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) postEvaluate(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), h.timeout())
	defer cancel()
	fired, err := h.Evaluator.EvaluateRepo(ctx, h.repoKey(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "EVALUATE_ERROR", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "fired": fired})
}

func (h *Handler) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return 15 * time.Second
}

type eventView struct {
	ID      int64           `json:"id"`
	RuleID  *int64          `json:"ruleId"`
	Scope   string          `json:"scope"`
	Metric  string          `json:"metric"`
	Value   float64         `json:"value"`
	FiredAt time.Time       `json:"firedAt"`
	Details json.RawMessage `json:"details,omitempty"`
}

func toEventViews(events []storage.AlertEvent) []eventView {
	views := make([]eventView, 0, len(events))
	for _, event := range events {
		views = append(views, eventView{
			ID:      event.ID,
			RuleID:  event.RuleID,
			Scope:   event.Scope,
			Metric:  event.Metric,
			Value:   event.Value,
			FiredAt: event.FiredAt,
			Details: event.Details,
		})
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Ok: false, Code: code, Message: err.Error()})
}
