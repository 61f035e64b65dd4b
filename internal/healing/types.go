// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package healing implements the self-healing remediation engine: a
// declarative-rule evaluator that watches metric aggregates and executes
// automated recovery strategies under cooldown, priority, and approval
// constraints.
package healing

import (
	"time"

	"github.com/unitygrid/sentinel/internal/metrics"
	"github.com/unitygrid/sentinel/internal/rules"
)

// Evaluation reasons, in the order the checks short-circuit.
const (
	ReasonCooldownActive      = "cooldown_active"
	ReasonThresholdNotMet     = "threshold_not_met"
	ReasonMinOccurrences      = "min_occurrences_not_met"
	ReasonOutsideTimeWindow   = "outside_time_window"
	ReasonExpressionNotMet    = "expression_not_met"
	ReasonConditionsMet       = "conditions_met"
	ReasonEvaluationError     = "evaluation_error"
)

// Evaluation is the structured outcome of evaluating one rule.
type Evaluation struct {
	ShouldTrigger     bool               `json:"shouldTrigger"`
	Reason            string             `json:"reason"`
	Rule              string             `json:"rule,omitempty"`
	CooldownRemaining time.Duration      `json:"cooldownRemaining,omitempty"`
	CurrentValue      *float64           `json:"currentValue,omitempty"`
	Threshold         *float64           `json:"threshold,omitempty"`
	Occurrences       int                `json:"occurrences,omitempty"`
	Required          int                `json:"required,omitempty"`
	Window            *rules.TimeWindow  `json:"window,omitempty"`
	Metrics           *metrics.Aggregate `json:"metrics,omitempty"`
	Error             string             `json:"error,omitempty"`
}

// ExecutionStatus classifies the outcome of one remediation attempt.
type ExecutionStatus string

const (
	StatusSuccess         ExecutionStatus = "success"
	StatusFailed          ExecutionStatus = "failed"
	StatusSkipped         ExecutionStatus = "skipped"
	StatusPendingApproval ExecutionStatus = "pending_approval"
	StatusError           ExecutionStatus = "error"
)

// Execution is the structured result of executeRemediation.
type Execution struct {
	Status           ExecutionStatus        `json:"status"`
	Rule             string                 `json:"rule"`
	Action           string                 `json:"action,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	ApprovalRequired bool                   `json:"approvalRequired,omitempty"`
	Result           map[string]interface{} `json:"result,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Duration         time.Duration          `json:"duration,omitempty"`
}

// ExecContext carries evaluation metadata into a remediation.
type ExecContext struct {
	Evaluation  *Evaluation `json:"evaluation,omitempty"`
	TriggeredAt time.Time   `json:"triggeredAt,omitempty"`
}

// HistoryEntry is one row of the execution history view.
type HistoryEntry struct {
	RuleName          string        `json:"ruleName"`
	LastExecuted      time.Time     `json:"lastExecuted"`
	CooldownRemaining time.Duration `json:"cooldownRemaining"`
}
