package storage

import "time"

// AlertRule is a user-authored threshold rule. Scope is either
// "repo:owner/name" or "org:name"; rules are created and mutated through
// the external API, the engine only reads them.
type AlertRule struct {
	ID          int64
	Scope       string
	Metric      string
	Threshold   float64
	WindowHours int
	Channel     string
	Destination string
	Enabled     bool
	CreatedAt   time.Time
}

// AlertEvent is one firing of a rule. Append-only; RuleID is nil when the
// rule has since been deleted.
type AlertEvent struct {
	ID      int64
	RuleID  *int64
	Scope   string
	Metric  string
	Value   float64
	FiredAt time.Time
	Details []byte
}
