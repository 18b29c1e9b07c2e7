package insights

import (
	"math"

	"cipulse-backend/internal/model"
)

// Metric names the per-run series anomaly detection operates on.
type Metric string

const (
	MetricDuration  Metric = "duration"
	MetricQueueWait Metric = "queue_wait"
)

const (
	// DefaultZThreshold flags values more than this many baseline standard
	// deviations away from the rolling mean.
	DefaultZThreshold = 2.0

	baselineWindow      = 20
	baselineMinSamples  = 5
	degenerateStdDevMin = 1.0
)

// AnomalyResult scores one run against the rolling baseline of one metric.
type AnomalyResult struct {
	Metric         Metric  `json:"metric"`
	Value          float64 `json:"value"`
	ZScore         float64 `json:"zScore"`
	BaselineMean   float64 `json:"baselineMean"`
	BaselineStdDev float64 `json:"baselineStdDev"`
	High           bool    `json:"high"`
	Low            bool    `json:"low"`
}

// RunAnomalies aggregates all metric results for a single run.
type RunAnomalies struct {
	RunID      int64           `json:"runId"`
	Results    []AnomalyResult `json:"results"`
	HasAnomaly bool            `json:"hasAnomaly"`
	WorstZ     float64         `json:"worstZ"`
}

// Baseline summarizes the most recent rolling window of a metric for
// charting: mean plus the band at ±threshold·σ.
type Baseline struct {
	Metric     Metric  `json:"metric"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stdDev"`
	Upper      float64 `json:"upper"`
	Lower      float64 `json:"lower"`
	SampleSize int     `json:"sampleSize"`
}

func metricValue(run model.RunRecord, metric Metric) (float64, bool) {
	var ms int64
	var ok bool
	switch metric {
	case MetricDuration:
		ms, ok = run.DurationMS()
	case MetricQueueWait:
		ms, ok = run.QueueWaitMS()
	}
	if !ok || ms <= 0 {
		return 0, false
	}
	return float64(ms), true
}

// DetectAnomalies scores each run of a newest-first batch against a causal
// baseline: up to the 20 chronologically preceding runs with a defined
// positive value for the same metric, at least 5 of them. Near-constant
// baselines (σ < 1) never flag. A threshold <= 0 uses DefaultZThreshold.
// High flags fire on both metrics; low flags only on duration, since an
// unusually short queue wait is not a problem.
func DetectAnomalies(runs []model.RunRecord, threshold float64) map[int64]RunAnomalies {
	if threshold <= 0 {
		threshold = DefaultZThreshold
	}
	ordered := make([]model.RunRecord, len(runs))
	copy(ordered, runs)
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}

	out := map[int64]RunAnomalies{}
	for _, metric := range []Metric{MetricDuration, MetricQueueWait} {
		window := make([]float64, 0, baselineWindow)
		for _, run := range ordered {
			value, ok := metricValue(run, metric)
			if !ok {
				continue
			}
			if result, ok := scoreAgainst(window, value, metric, threshold); ok {
				merge(out, run.ID, result)
			}
			window = append(window, value)
			if len(window) > baselineWindow {
				window = window[1:]
			}
		}
	}
	return out
}

func scoreAgainst(window []float64, value float64, metric Metric, threshold float64) (AnomalyResult, bool) {
	if len(window) < baselineMinSamples {
		return AnomalyResult{}, false
	}
	mean := Mean(window)
	sd := StdDev(window, false)
	if sd < degenerateStdDevMin {
		return AnomalyResult{}, false
	}
	z := (value - mean) / sd
	result := AnomalyResult{
		Metric:         metric,
		Value:          value,
		ZScore:         z,
		BaselineMean:   mean,
		BaselineStdDev: sd,
		High:           z > threshold,
		Low:            metric == MetricDuration && z < -threshold,
	}
	return result, true
}

func merge(out map[int64]RunAnomalies, runID int64, result AnomalyResult) {
	entry, ok := out[runID]
	if !ok {
		entry = RunAnomalies{RunID: runID}
	}
	entry.Results = append(entry.Results, result)
	if result.High || result.Low {
		entry.HasAnomaly = true
	}
	if abs := math.Abs(result.ZScore); abs > entry.WorstZ {
		entry.WorstZ = abs
	}
	out[runID] = entry
}

// ComputeBaseline returns the rolling window statistics as of the newest
// run in the batch, independent of per-run detection. The second return is
// false when fewer than 5 samples exist.
func ComputeBaseline(runs []model.RunRecord, metric Metric, threshold float64) (Baseline, bool) {
	if threshold <= 0 {
		threshold = DefaultZThreshold
	}
	values := make([]float64, 0, len(runs))
	// Batch is newest-first; collect chronologically.
	for i := len(runs) - 1; i >= 0; i-- {
		if v, ok := metricValue(runs[i], metric); ok {
			values = append(values, v)
		}
	}
	if len(values) > baselineWindow {
		values = values[len(values)-baselineWindow:]
	}
	if len(values) < baselineMinSamples {
		return Baseline{}, false
	}
	mean := Mean(values)
	sd := StdDev(values, false)
	return Baseline{
		Metric:     metric,
		Mean:       mean,
		StdDev:     sd,
		Upper:      mean + threshold*sd,
		Lower:      math.Max(0, mean-threshold*sd),
		SampleSize: len(values),
	}, true
}
