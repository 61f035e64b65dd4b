// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rules defines the declarative self-healing rule model, the rule
// file loader, and validation of rule sets before the engine trusts them.
package rules

// Strategy selects the remediation behavior executed when a rule triggers.
type Strategy string

const (
	StrategyModelFailover    Strategy = "model_failover"
	StrategyPromptRollback   Strategy = "prompt_rollback"
	StrategyServiceRestart   Strategy = "service_restart"
	StrategyThrottleRequests Strategy = "throttle_requests"
	StrategyAlertOnly        Strategy = "alert_only"
)

// Strategies lists every known strategy, in dispatch order.
var Strategies = []Strategy{
	StrategyModelFailover,
	StrategyPromptRollback,
	StrategyServiceRestart,
	StrategyThrottleRequests,
	StrategyAlertOnly,
}

func (s Strategy) Valid() bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// Comparison is the operator applied between a metric aggregate and a threshold.
type Comparison string

const (
	CompareGreaterThan    Comparison = "greater_than"
	CompareLessThan       Comparison = "less_than"
	CompareEqual          Comparison = "equal"
	CompareGreaterOrEqual Comparison = "greater_or_equal"
	CompareLessOrEqual    Comparison = "less_or_equal"
)

func (c Comparison) Valid() bool {
	switch c {
	case CompareGreaterThan, CompareLessThan, CompareEqual, CompareGreaterOrEqual, CompareLessOrEqual:
		return true
	}
	return false
}

// Aggregation is the reduction applied to metric snapshots inside the
// detection window.
type Aggregation string

const (
	AggregateAvg    Aggregation = "avg"
	AggregateSum    Aggregation = "sum"
	AggregateMax    Aggregation = "max"
	AggregateMin    Aggregation = "min"
	AggregateCount  Aggregation = "count"
	AggregateLatest Aggregation = "latest"
)

func (a Aggregation) Valid() bool {
	switch a {
	case AggregateAvg, AggregateSum, AggregateMax, AggregateMin, AggregateCount, AggregateLatest:
		return true
	}
	return false
}

// DetectionQuery defines when a rule's condition is evaluated as true.
type DetectionQuery struct {
	Metric           string      `json:"metric"`
	Aggregation      Aggregation `json:"aggregation"`
	Threshold        *float64    `json:"threshold"`
	Comparison       Comparison  `json:"comparison"`
	Window           string      `json:"window"`
	ComponentType    string      `json:"componentType,omitempty"`
	ComponentPattern string      `json:"componentPattern,omitempty"`
}

// TimeWindow restricts rule activation to a daily HH:MM interval.
// Start > End means the window wraps past midnight.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Conditions holds additional guards applied after the threshold check.
type Conditions struct {
	MinOccurrences int         `json:"minOccurrences,omitempty"`
	TimeOfDay      *TimeWindow `json:"timeOfDay,omitempty"`
	// Expression is an optional boolean expr-lang guard evaluated against
	// the metric aggregate (value, count, component).
	Expression string `json:"expression,omitempty"`
}

// Remediation configures the action taken when a rule triggers.
type Remediation struct {
	Strategy         Strategy `json:"strategy"`
	Action           string   `json:"action"`
	Automated        bool     `json:"automated"`
	RequiresApproval bool     `json:"requiresApproval"`
	Cooldown         string   `json:"cooldown"`
	Priority         int      `json:"priority"`
}

// Notifications lists alert channels per lifecycle event.
type Notifications struct {
	OnTrigger []string `json:"onTrigger,omitempty"`
	OnSuccess []string `json:"onSuccess,omitempty"`
	OnFailure []string `json:"onFailure,omitempty"`
}

// Rule is one declarative self-healing rule. Rules are immutable for the
// lifetime of a loaded set and replaced wholesale on reload.
type Rule struct {
	Name           string         `json:"name"`
	Enabled        *bool          `json:"enabled,omitempty"`
	Description    string         `json:"description,omitempty"`
	DetectionQuery DetectionQuery `json:"detectionQuery"`
	Conditions     Conditions     `json:"conditions,omitempty"`
	Remediation    Remediation    `json:"remediation"`
	Notifications  Notifications  `json:"notifications,omitempty"`
}

// IsEnabled reports whether the rule participates in evaluation.
// A missing enabled field counts as enabled.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// HasNotifications reports whether any channel is configured on any event.
func (r *Rule) HasNotifications() bool {
	n := r.Notifications
	return len(n.OnTrigger) > 0 || len(n.OnSuccess) > 0 || len(n.OnFailure) > 0
}
