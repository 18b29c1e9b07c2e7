package insights

import (
	"fmt"

	"cipulse-backend/internal/model"
)

const (
	queueWaitWarnMinutes = 2
	queueWaitCritMinutes = 5

	successRateMinRuns = 10
	successRateFloor   = 80.0

	rerunMinRuns  = 10
	rerunWarnRate = 10.0
	rerunCritRate = 25.0

	driftWindow    = 50
	driftMinTimed  = 10
	driftWarnRatio = 1.2
	driftCritRatio = 1.5

	streakWarn = 3
	streakCrit = 5

	timeoutMinRuns  = 10
	timeoutWarnRate = 5.0
	timeoutCritRate = 15.0
)

func builtinRules() []Rule {
	return []Rule{
		queueWaitRule{},
		successRateRule{},
		rerunRateRule{},
		durationDriftRule{},
		failureStreakRule{},
		timeoutRateRule{},
	}
}

// queueWaitRule flags long average time between trigger and pickup, which
// usually means too few runners for the load.
type queueWaitRule struct{}

func (queueWaitRule) ID() string { return "queue-wait" }

func (queueWaitRule) Evaluate(batch Batch) *Tip {
	waits := []float64{}
	for _, run := range batch.Runs {
		if ms, ok := run.QueueWaitMS(); ok {
			waits = append(waits, float64(ms))
		}
	}
	if len(waits) < 5 {
		return nil
	}
	avgMin := Mean(waits) / 1000 / 60
	if avgMin <= queueWaitWarnMinutes {
		return nil
	}
	severity := SeverityWarning
	if avgMin > queueWaitCritMinutes {
		severity = SeverityCritical
	}
	return &Tip{
		RuleID:      "queue-wait",
		Severity:    severity,
		Category:    CategoryCost,
		Title:       "Runs spend a long time queued",
		Description: fmt.Sprintf("Average queue wait is %.1f minutes across %d runs.", avgMin, len(waits)),
		Impact:      "Add runners or reduce concurrent triggers to cut idle wait.",
	}
}

// successRateRule flags a low completion success rate once enough runs
// exist to make the ratio meaningful.
type successRateRule struct{}

func (successRateRule) ID() string { return "success-rate" }

func (successRateRule) Evaluate(batch Batch) *Tip {
	if len(batch.Completed) < successRateMinRuns {
		return nil
	}
	successes := 0
	for _, run := range batch.Completed {
		if run.Conclusion == model.ConclusionSuccess {
			successes++
		}
	}
	rate := float64(successes) / float64(len(batch.Completed)) * 100
	if rate >= successRateFloor {
		return nil
	}
	return &Tip{
		RuleID:      "success-rate",
		Severity:    SeverityWarning,
		Category:    CategoryReliability,
		Title:       "Success rate is below 80%",
		Description: fmt.Sprintf("%d of %d completed runs succeeded (%.1f%%).", successes, len(batch.Completed), rate),
	}
}

// rerunRateRule flags a high share of re-attempted runs, each of which
// bills the full workflow again.
type rerunRateRule struct{}

func (rerunRateRule) ID() string { return "rerun-rate" }

func (rerunRateRule) Evaluate(batch Batch) *Tip {
	if len(batch.Runs) < rerunMinRuns {
		return nil
	}
	reruns := 0
	for _, run := range batch.Runs {
		if run.RunAttempt > 1 {
			reruns++
		}
	}
	rate := float64(reruns) / float64(len(batch.Runs)) * 100
	if rate <= rerunWarnRate {
		return nil
	}
	severity := SeverityWarning
	if rate > rerunCritRate {
		severity = SeverityCritical
	}
	return &Tip{
		RuleID:      "rerun-rate",
		Severity:    severity,
		Category:    CategoryCost,
		Title:       "Many runs are re-run attempts",
		Description: fmt.Sprintf("%.1f%% of the last %d runs were re-runs; flaky tests are the usual cause.", rate, len(batch.Runs)),
		Impact:      "Each re-run bills the whole workflow a second time.",
	}
}

// durationDriftRule compares the newest half of the last 50 timed runs
// against the older half and flags a sustained slowdown.
type durationDriftRule struct{}

func (durationDriftRule) ID() string { return "duration-drift" }

func (durationDriftRule) Evaluate(batch Batch) *Tip {
	timed := []float64{}
	for _, run := range batch.Completed {
		if ms, ok := run.DurationMS(); ok && ms > 0 {
			timed = append(timed, float64(ms))
			if len(timed) == driftWindow {
				break
			}
		}
	}
	if len(timed) < driftMinTimed {
		return nil
	}
	// timed is newest-first, so the first half is the recent one.
	half := len(timed) / 2
	recentAvg := Mean(timed[:half])
	olderAvg := Mean(timed[half:])
	if olderAvg <= 0 || recentAvg < olderAvg*driftWarnRatio {
		return nil
	}
	severity := SeverityWarning
	if recentAvg >= olderAvg*driftCritRatio {
		severity = SeverityCritical
	}
	increase := (recentAvg/olderAvg - 1) * 100
	return &Tip{
		RuleID:      "duration-drift",
		Severity:    severity,
		Category:    CategoryPerformance,
		Title:       "Run duration is drifting up",
		Description: fmt.Sprintf("Recent runs average %.1f minutes, %.0f%% slower than the preceding ones.", recentAvg/1000/60, increase),
		Impact:      "Check for growing dependency installs or missing caches.",
	}
}

// failureStreakRule flags an active streak of consecutive failures at the
// head of the history.
type failureStreakRule struct{}

func (failureStreakRule) ID() string { return "failure-streak" }

func (failureStreakRule) Evaluate(batch Batch) *Tip {
	streak := 0
	for _, run := range batch.Completed {
		if !run.IsFailure() {
			break
		}
		streak++
	}
	if streak < streakWarn {
		return nil
	}
	severity := SeverityWarning
	if streak >= streakCrit {
		severity = SeverityCritical
	}
	return &Tip{
		RuleID:      "failure-streak",
		Severity:    severity,
		Category:    CategoryReliability,
		Title:       fmt.Sprintf("%d consecutive failures", streak),
		Description: fmt.Sprintf("The last %d completed runs all failed; the branch is likely broken right now.", streak),
	}
}

// timeoutRateRule flags runs hitting the workflow timeout, which waste the
// full timeout budget before failing.
type timeoutRateRule struct{}

func (timeoutRateRule) ID() string { return "timeout-rate" }

func (timeoutRateRule) Evaluate(batch Batch) *Tip {
	if len(batch.Completed) < timeoutMinRuns {
		return nil
	}
	timeouts := 0
	for _, run := range batch.Completed {
		if run.Conclusion == model.ConclusionTimedOut {
			timeouts++
		}
	}
	rate := float64(timeouts) / float64(len(batch.Completed)) * 100
	if rate < timeoutWarnRate {
		return nil
	}
	severity := SeverityWarning
	if rate >= timeoutCritRate {
		severity = SeverityCritical
	}
	return &Tip{
		RuleID:      "timeout-rate",
		Severity:    severity,
		Category:    CategoryReliability,
		Title:       "Runs are timing out",
		Description: fmt.Sprintf("%d of %d completed runs hit the timeout (%.1f%%).", timeouts, len(batch.Completed), rate),
		Impact:      "Timed-out runs burn the entire timeout budget before failing.",
	}
}
