package insights

import (
	"fmt"
	"sort"
	"time"

	"cipulse-backend/internal/model"
)

// Level is a DORA benchmark band, ordered elite < high < medium < low.
type Level string

const (
	LevelElite  Level = "elite"
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

var levelRank = map[Level]int{
	LevelElite:  0,
	LevelHigh:   1,
	LevelMedium: 2,
	LevelLow:    3,
}

// WorseLevel returns the numerically worse of two levels.
func WorseLevel(a, b Level) Level {
	if levelRank[b] > levelRank[a] {
		return b
	}
	return a
}

// DoraMetric is one of the four keys. Value is nil when the metric could
// not be computed from the batch (no samples, no recoveries).
type DoraMetric struct {
	Value      *float64 `json:"value"`
	P95        *float64 `json:"p95,omitempty"`
	SampleSize int      `json:"sampleSize"`
	Level      Level    `json:"level"`
	Label      string   `json:"label"`
}

type DoraMetrics struct {
	DeploymentFrequency DoraMetric `json:"deploymentFrequency"`
	LeadTime            DoraMetric `json:"leadTime"`
	ChangeFailureRate   DoraMetric `json:"changeFailureRate"`
	MTTR                DoraMetric `json:"mttr"`
	OverallLevel        Level      `json:"overallLevel"`
}

// CalculateDora derives the four DORA keys from a run batch. Order of the
// input does not matter. Empty or all-incomplete batches yield zeroed
// metrics, never an error.
func CalculateDora(runs []model.RunRecord) DoraMetrics {
	completed := make([]model.RunRecord, 0, len(runs))
	for _, run := range runs {
		if run.IsCompleted() {
			completed = append(completed, run)
		}
	}

	metrics := DoraMetrics{
		DeploymentFrequency: deploymentFrequency(completed),
		LeadTime:            leadTime(completed),
		ChangeFailureRate:   changeFailureRate(completed),
		MTTR:                meanTimeToRecovery(completed),
	}
	metrics.OverallLevel = WorseLevel(
		WorseLevel(metrics.DeploymentFrequency.Level, metrics.LeadTime.Level),
		WorseLevel(metrics.ChangeFailureRate.Level, metrics.MTTR.Level),
	)
	return metrics
}

func deploymentFrequency(completed []model.RunRecord) DoraMetric {
	if len(completed) == 0 {
		zero := 0.0
		return DoraMetric{Value: &zero, SampleSize: 0, Level: LevelLow, Label: "0 runs/day"}
	}
	oldest := completed[0].CreatedAt
	newest := completed[0].CreatedAt
	for _, run := range completed[1:] {
		if run.CreatedAt.Before(oldest) {
			oldest = run.CreatedAt
		}
		if run.CreatedAt.After(newest) {
			newest = run.CreatedAt
		}
	}
	spanDays := newest.Sub(oldest).Hours() / 24
	if spanDays < 1 {
		spanDays = 1
	}
	perDay := float64(len(completed)) / spanDays

	level := LevelLow
	switch {
	case perDay >= 1:
		level = LevelElite
	case perDay >= 1.0/7:
		level = LevelHigh
	case perDay >= 1.0/30:
		level = LevelMedium
	}
	return DoraMetric{
		Value:      &perDay,
		SampleSize: len(completed),
		Level:      level,
		Label:      fmt.Sprintf("%.2f runs/day", perDay),
	}
}

func leadTime(completed []model.RunRecord) DoraMetric {
	leads := make([]float64, 0, len(completed))
	for _, run := range completed {
		ms, ok := run.DurationMS()
		if !ok {
			continue
		}
		start := run.CreatedAt
		if run.StartedAt != nil {
			start = *run.StartedAt
		}
		lead := start.Add(time.Duration(ms) * time.Millisecond).Sub(run.CreatedAt).Hours()
		if lead > 0 {
			leads = append(leads, lead)
		}
	}
	if len(leads) == 0 {
		return DoraMetric{SampleSize: 0, Level: LevelLow, Label: "no timed runs"}
	}
	median := Median(leads)
	p95 := Percentile(leads, 0.95)

	level := LevelLow
	switch {
	case median < 1:
		level = LevelElite
	case median < 24:
		level = LevelHigh
	case median < 168:
		level = LevelMedium
	}
	return DoraMetric{
		Value:      &median,
		P95:        &p95,
		SampleSize: len(leads),
		Level:      level,
		Label:      fmt.Sprintf("%s median", formatHours(median)),
	}
}

func changeFailureRate(completed []model.RunRecord) DoraMetric {
	if len(completed) == 0 {
		zero := 0.0
		return DoraMetric{Value: &zero, SampleSize: 0, Level: LevelLow, Label: "0%"}
	}
	failures := 0
	for _, run := range completed {
		if run.IsFailure() {
			failures++
		}
	}
	rate := float64(failures) / float64(len(completed)) * 100

	level := LevelLow
	switch {
	case rate < 5:
		level = LevelElite
	case rate < 15:
		level = LevelHigh
	case rate < 30:
		level = LevelMedium
	}
	return DoraMetric{
		Value:      &rate,
		SampleSize: len(completed),
		Level:      level,
		Label:      fmt.Sprintf("%.1f%%", rate),
	}
}

// meanTimeToRecovery walks each branch chronologically and measures the
// elapsed time from the first failure of a losing streak to the next
// success on that branch. Recoveries are never counted across branches.
func meanTimeToRecovery(completed []model.RunRecord) DoraMetric {
	byBranch := map[string][]model.RunRecord{}
	for _, run := range completed {
		byBranch[run.Branch] = append(byBranch[run.Branch], run)
	}

	recoveries := []float64{}
	for _, runs := range byBranch {
		sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
		var failedAt *time.Time
		for _, run := range runs {
			switch run.Conclusion {
			case model.ConclusionFailure:
				if failedAt == nil {
					ts := run.CreatedAt
					failedAt = &ts
				}
			case model.ConclusionSuccess:
				if failedAt != nil {
					recoveries = append(recoveries, run.CreatedAt.Sub(*failedAt).Hours())
					failedAt = nil
				}
			}
		}
	}

	if len(recoveries) == 0 {
		// No observed failure-to-success transition: not penalized, but
		// recovery speed is unproven, so never elite.
		return DoraMetric{SampleSize: 0, Level: LevelHigh, Label: "no recoveries observed"}
	}
	avg := Mean(recoveries)

	level := LevelLow
	switch {
	case avg < 1:
		level = LevelElite
	case avg < 24:
		level = LevelHigh
	case avg < 168:
		level = LevelMedium
	}
	return DoraMetric{
		Value:      &avg,
		SampleSize: len(recoveries),
		Level:      level,
		Label:      fmt.Sprintf("%s avg recovery", formatHours(avg)),
	}
}

func formatHours(hours float64) string {
	if hours < 1 {
		return fmt.Sprintf("%.0fm", hours*60)
	}
	if hours < 48 {
		return fmt.Sprintf("%.1fh", hours)
	}
	return fmt.Sprintf("%.1fd", hours/24)
}
