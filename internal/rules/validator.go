// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rules

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	log "github.com/sirupsen/logrus"
)

// Issue is a single structured validation finding.
type Issue struct {
	Rule    string `json:"rule,omitempty"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Report is the outcome of validating a rule set. Validation is pure: it
// never mutates the rules and has no side effects beyond logging.
type Report struct {
	Valid        bool    `json:"valid"`
	TotalRules   int     `json:"totalRules"`
	EnabledRules int     `json:"enabledRules"`
	Errors       []Issue `json:"errors"`
	Warnings     []Issue `json:"warnings"`
}

// Validator performs schema and logic checks over a rule set.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// Validate checks every rule for schema violations, logical issues,
// duplicate names, and conflicting enabled rule pairs.
func (v *Validator) Validate(all []Rule) Report {
	report := Report{
		TotalRules: len(all),
		Errors:     []Issue{},
		Warnings:   []Issue{},
	}

	for i := range all {
		rule := &all[i]
		if rule.IsEnabled() {
			report.EnabledRules++
		}
		id := ruleID(rule, i)
		report.Errors = append(report.Errors, v.checkSchema(rule, id)...)
		errs, warns := v.checkLogic(rule, id)
		report.Errors = append(report.Errors, errs...)
		report.Warnings = append(report.Warnings, warns...)
	}

	report.Errors = append(report.Errors, v.checkDuplicateNames(all)...)
	report.Warnings = append(report.Warnings, v.checkConflicts(all)...)

	report.Valid = len(report.Errors) == 0
	if report.Valid {
		log.WithFields(log.Fields{
			"total":    report.TotalRules,
			"enabled":  report.EnabledRules,
			"warnings": len(report.Warnings),
		}).Info("All rules validated successfully")
	} else {
		log.WithFields(log.Fields{
			"errors":   len(report.Errors),
			"warnings": len(report.Warnings),
		}).Error("Rule validation failed")
	}

	return report
}

func ruleID(rule *Rule, index int) string {
	if rule.Name != "" {
		return rule.Name
	}
	return fmt.Sprintf("rule[%d]", index)
}

// checkSchema verifies required fields and enum membership.
func (v *Validator) checkSchema(rule *Rule, id string) []Issue {
	var errs []Issue

	if rule.Name == "" {
		errs = append(errs, Issue{Rule: id, Type: "schema", Message: "name is required"})
	}
	dq := rule.DetectionQuery
	if dq.Metric == "" {
		errs = append(errs, Issue{Rule: id, Type: "schema", Message: "detectionQuery.metric is required"})
	}
	if dq.Aggregation != "" && !dq.Aggregation.Valid() {
		errs = append(errs, Issue{Rule: id, Type: "schema", Message: fmt.Sprintf("unknown aggregation %q", dq.Aggregation)})
	}
	if !dq.Comparison.Valid() {
		errs = append(errs, Issue{Rule: id, Type: "schema", Message: fmt.Sprintf("unknown comparison %q", dq.Comparison)})
	}
	if !rule.Remediation.Strategy.Valid() {
		errs = append(errs, Issue{Rule: id, Type: "schema", Message: fmt.Sprintf("unknown remediation strategy %q", rule.Remediation.Strategy)})
	}
	return errs
}

// checkLogic verifies thresholds, durations, priorities, and flag
// combinations, and warns about rules that cannot notify anyone.
func (v *Validator) checkLogic(rule *Rule, id string) (errs, warns []Issue) {
	dq := rule.DetectionQuery

	if dq.Threshold == nil {
		errs = append(errs, Issue{Rule: id, Type: "invalid_threshold", Message: "threshold is required and must be a number"})
	} else if strings.Contains(dq.Metric, "rate") && *dq.Threshold > 1 && dq.Comparison != CompareGreaterThan {
		warns = append(warns, Issue{Rule: id, Type: "suspicious_threshold", Message: "rate metrics should typically use thresholds between 0 and 1"})
	}

	if dq.Window != "" && !IsValidDuration(dq.Window) {
		errs = append(errs, Issue{Rule: id, Type: "invalid_window", Message: `window must be in a format like "30s", "5m", "1h"`})
	}
	if cd := rule.Remediation.Cooldown; cd != "" && !IsValidDuration(cd) {
		errs = append(errs, Issue{Rule: id, Type: "invalid_cooldown", Message: `cooldown must be in a format like "30s", "5m", "1h"`})
	}

	if p := rule.Remediation.Priority; p < 1 || p > 10 {
		errs = append(errs, Issue{Rule: id, Type: "invalid_priority", Message: "priority must be between 1 and 10"})
	}

	// Not an error on its own, but approval always wins over automation.
	if rule.Remediation.Automated && rule.Remediation.RequiresApproval {
		warns = append(warns, Issue{Rule: id, Type: "conflicting_settings", Message: "rule is marked as automated but requires approval (approval will block execution)"})
	}

	if !rule.HasNotifications() {
		warns = append(warns, Issue{Rule: id, Type: "no_notifications", Message: "no notification channels configured for this rule"})
	}

	if e := rule.Conditions.Expression; e != "" {
		if _, err := expr.Compile(e, expr.AsBool()); err != nil {
			errs = append(errs, Issue{Rule: id, Type: "invalid_expression", Message: fmt.Sprintf("condition expression does not compile: %v", err)})
		}
	}

	if tw := rule.Conditions.TimeOfDay; tw != nil {
		if !isClockTime(tw.Start) || !isClockTime(tw.End) {
			errs = append(errs, Issue{Rule: id, Type: "invalid_time_window", Message: `timeOfDay start/end must be "HH:MM"`})
		}
	}

	return errs, warns
}

func isClockTime(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	hh := (int(s[0]-'0'))*10 + int(s[1]-'0')
	mm := (int(s[3]-'0'))*10 + int(s[4]-'0')
	for _, c := range []byte{s[0], s[1], s[3], s[4]} {
		if c < '0' || c > '9' {
			return false
		}
	}
	return hh >= 0 && hh <= 23 && mm >= 0 && mm <= 59
}

func (v *Validator) checkDuplicateNames(all []Rule) []Issue {
	seen := make(map[string]int, len(all))
	var errs []Issue
	for i := range all {
		name := all[i].Name
		if name == "" {
			continue
		}
		if first, ok := seen[name]; ok {
			errs = append(errs, Issue{
				Rule:    name,
				Type:    "duplicate_names",
				Message: fmt.Sprintf("duplicate rule name at indices %d and %d", first, i),
			})
		} else {
			seen[name] = i
		}
	}
	return errs
}

// checkConflicts warns about pairs of enabled rules that watch the same
// metric with overlapping component patterns. The wildcard overlap test is a
// substring heuristic, not a full set-overlap proof.
func (v *Validator) checkConflicts(all []Rule) []Issue {
	enabled := FilterEnabled(all)
	var warns []Issue
	for i := 0; i < len(enabled); i++ {
		for j := i + 1; j < len(enabled); j++ {
			if rulesOverlap(&enabled[i], &enabled[j]) {
				warns = append(warns, Issue{
					Rule: enabled[i].Name,
					Type: "conflicting_rules",
					Message: fmt.Sprintf("rules %q and %q have overlapping detection criteria; use the priority field to determine execution order",
						enabled[i].Name, enabled[j].Name),
				})
			}
		}
	}
	return warns
}

func rulesOverlap(a, b *Rule) bool {
	da, db := a.DetectionQuery, b.DetectionQuery
	if da.Metric != db.Metric {
		return false
	}
	if da.ComponentPattern == db.ComponentPattern {
		return true
	}
	if da.ComponentPattern == "" || db.ComponentPattern == "" {
		return false
	}
	pa := strings.ReplaceAll(da.ComponentPattern, "*", ".*")
	pb := strings.ReplaceAll(db.ComponentPattern, "*", ".*")
	return strings.Contains(pa, pb) || strings.Contains(pb, pa)
}

// Summary aggregates statistics about a rule set for dashboards.
type Summary struct {
	Total            int                 `json:"total"`
	Enabled          int                 `json:"enabled"`
	Disabled         int                 `json:"disabled"`
	Automated        int                 `json:"automated"`
	RequiresApproval int                 `json:"requiresApproval"`
	Strategies       map[Strategy]int    `json:"strategies"`
	ComponentTypes   map[string]int      `json:"componentTypes"`
}

// Summarize computes summary statistics over a rule set.
func Summarize(all []Rule) Summary {
	s := Summary{
		Total:          len(all),
		Strategies:     make(map[Strategy]int),
		ComponentTypes: make(map[string]int),
	}
	for i := range all {
		r := &all[i]
		if !r.IsEnabled() {
			continue
		}
		s.Enabled++
		if r.Remediation.Automated {
			s.Automated++
		}
		if r.Remediation.RequiresApproval {
			s.RequiresApproval++
		}
		if r.Remediation.Strategy != "" {
			s.Strategies[r.Remediation.Strategy]++
		}
		if ct := r.DetectionQuery.ComponentType; ct != "" {
			s.ComponentTypes[ct]++
		}
	}
	s.Disabled = s.Total - s.Enabled
	return s
}
