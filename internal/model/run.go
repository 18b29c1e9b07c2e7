package model

import "time"

// Run statuses as reported by the CI provider.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Run conclusions for completed runs.
const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionSkipped   = "skipped"
	ConclusionTimedOut  = "timed_out"
)

// RunRecord is one CI workflow execution as supplied by the provider.
// StartedAt and CompletedAt are nil when the run never started or never
// finished; absence must not be conflated with a zero duration.
type RunRecord struct {
	ID            int64      `json:"id"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Status        string     `json:"status"`
	Conclusion    string     `json:"conclusion,omitempty"`
	Branch        string     `json:"branch"`
	RunAttempt    int        `json:"runAttempt"`
	Actor         string     `json:"actor,omitempty"`
	CommitMessage string     `json:"commitMessage,omitempty"`
	CommitAuthor  string     `json:"commitAuthor,omitempty"`
}

// DurationMS returns completion minus start in milliseconds. The second
// return is false when the run has no usable timing.
func (r RunRecord) DurationMS() (int64, bool) {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0, false
	}
	ms := r.CompletedAt.Sub(*r.StartedAt).Milliseconds()
	if ms < 0 {
		return 0, false
	}
	return ms, true
}

// QueueWaitMS returns start minus creation in milliseconds, false if the
// run never started.
func (r RunRecord) QueueWaitMS() (int64, bool) {
	if r.StartedAt == nil {
		return 0, false
	}
	ms := r.StartedAt.Sub(r.CreatedAt).Milliseconds()
	if ms < 0 {
		return 0, false
	}
	return ms, true
}

// IsCompleted reports whether the run finished, regardless of outcome.
func (r RunRecord) IsCompleted() bool {
	return r.Status == StatusCompleted
}

// IsFailure reports whether a completed run concluded in failure.
func (r RunRecord) IsFailure() bool {
	return r.Conclusion == ConclusionFailure
}
