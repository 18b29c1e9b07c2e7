package insights

import (
	"sort"

	"cipulse-backend/internal/model"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityWarning:  1,
	SeverityInfo:     2,
}

type Category string

const (
	CategoryCost        Category = "cost"
	CategoryPerformance Category = "performance"
	CategoryReliability Category = "reliability"
	CategorySecurity    Category = "security"
)

// Tip is one piece of advisory output. RuleID is stable across releases so
// consumers can suppress or track individual rules.
type Tip struct {
	RuleID      string   `json:"ruleId"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Impact      string   `json:"impact,omitempty"`
}

// Batch is the input handed to every rule: the full newest-first run list
// and its completed subset in the same order.
type Batch struct {
	Runs      []model.RunRecord
	Completed []model.RunRecord
}

// Rule is a single independent heuristic. Evaluate returns nil when the
// rule does not apply; each rule carries its own minimum-sample guard.
type Rule interface {
	ID() string
	Evaluate(batch Batch) *Tip
}

// Optimizer runs a registered list of rules over a batch and returns the
// non-nil tips sorted by severity. Rules never see each other's output, so
// adding one touches nothing else.
type Optimizer struct {
	rules []Rule
}

// NewOptimizer returns an optimizer with the built-in rule set registered
// in declaration order.
func NewOptimizer() *Optimizer {
	o := &Optimizer{}
	for _, rule := range builtinRules() {
		o.Register(rule)
	}
	return o
}

// Register appends a rule. Registration order breaks severity ties.
func (o *Optimizer) Register(rule Rule) {
	o.rules = append(o.rules, rule)
}

// Evaluate runs every registered rule over the batch. The input is expected
// newest-first, as returned by the provider.
func (o *Optimizer) Evaluate(runs []model.RunRecord) []Tip {
	completed := make([]model.RunRecord, 0, len(runs))
	for _, run := range runs {
		if run.IsCompleted() {
			completed = append(completed, run)
		}
	}
	batch := Batch{Runs: runs, Completed: completed}

	tips := []Tip{}
	for _, rule := range o.rules {
		if tip := rule.Evaluate(batch); tip != nil {
			tips = append(tips, *tip)
		}
	}
	sort.SliceStable(tips, func(i, j int) bool {
		return severityRank[tips[i].Severity] < severityRank[tips[j].Severity]
	})
	return tips
}
