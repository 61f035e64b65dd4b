// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package healing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"

	"github.com/unitygrid/sentinel/internal/alerting"
	"github.com/unitygrid/sentinel/internal/clock"
	"github.com/unitygrid/sentinel/internal/metrics"
	"github.com/unitygrid/sentinel/internal/procman"
	"github.com/unitygrid/sentinel/internal/promptstore"
	"github.com/unitygrid/sentinel/internal/ratelimit"
	"github.com/unitygrid/sentinel/internal/router"
	"github.com/unitygrid/sentinel/internal/rules"
)

// HostRouter is the slice of the failover router the engine drives during
// model_failover remediation.
type HostRouter interface {
	ActiveHost() string
	BackupHost(host string) string
	SwitchHost(target, reason string)
	CheckHost(ctx context.Context, host string) router.HostHealth
}

// Config holds engine-level settings.
type Config struct {
	// EnableAutomation gates all remediation execution.
	EnableAutomation bool `yaml:"enable-automation"`
	// RequireApprovalForCritical blocks rules flagged requiresApproval.
	RequireApprovalForCritical bool `yaml:"require-approval"`
	// MaxConcurrentActions is advisory; the evaluate-execute cycle runs
	// rules sequentially in priority order.
	MaxConcurrentActions int `yaml:"max-concurrent-actions"`
	// DefaultCooldown applies when a rule omits or malforms its cooldown.
	DefaultCooldown time.Duration `yaml:"-"`
	// DefaultPromptName is the rollback target when no prompt can be
	// derived from the triggering component.
	DefaultPromptName string `yaml:"default-prompt-name"`
	// ServiceMap maps remediation action names onto process-manager
	// service names.
	ServiceMap map[string]string `yaml:"service-map"`
	// RestartSettleDelay is how long to wait after a reload before
	// re-querying process status.
	RestartSettleDelay time.Duration `yaml:"-"`
}

// DefaultConfig mirrors the environment-driven defaults of the deployment.
func DefaultConfig() Config {
	return Config{
		EnableAutomation:           true,
		RequireApprovalForCritical: true,
		MaxConcurrentActions:       3,
		DefaultCooldown:            15 * time.Minute,
		DefaultPromptName:          "agentx-system",
		RestartSettleDelay:         2 * time.Second,
	}
}

// Engine orchestrates rule evaluation and remediation execution. It is an
// explicit value: construct one per process and thread it through call
// sites; all mutable state (rule set, cooldowns) lives on the instance.
type Engine struct {
	cfg      Config
	metrics  metrics.Store
	router   HostRouter
	prompts  promptstore.Store
	procs    procman.Manager
	alerts   alerting.Service
	throttle *ratelimit.Throttle
	clock    clock.Clock

	cooldowns *CooldownTracker
	handlers  map[rules.Strategy]strategyFunc

	mu       sync.RWMutex
	rules    []rules.Rule
	programs map[string]*vm.Program
}

type strategyFunc func(ctx context.Context, rule *rules.Rule, execCtx *ExecContext) (map[string]interface{}, error)

// Deps bundles the engine's collaborators.
type Deps struct {
	Metrics  metrics.Store
	Router   HostRouter
	Prompts  promptstore.Store
	Procs    procman.Manager
	Alerts   alerting.Service
	Throttle *ratelimit.Throttle
	Clock    clock.Clock
}

// New constructs an engine. Collaborators a deployment does not wire may be
// nil; the corresponding strategies then fail with a clear error instead of
// panicking.
func New(cfg Config, deps Deps) *Engine {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = 15 * time.Minute
	}
	e := &Engine{
		cfg:       cfg,
		metrics:   deps.Metrics,
		router:    deps.Router,
		prompts:   deps.Prompts,
		procs:     deps.Procs,
		alerts:    deps.Alerts,
		throttle:  deps.Throttle,
		clock:     clk,
		cooldowns: NewCooldownTracker(clk),
		programs:  make(map[string]*vm.Program),
	}
	e.handlers = map[rules.Strategy]strategyFunc{
		rules.StrategyModelFailover:    e.executeModelFailover,
		rules.StrategyPromptRollback:   e.executePromptRollback,
		rules.StrategyServiceRestart:   e.executeServiceRestart,
		rules.StrategyThrottleRequests: e.executeThrottle,
		rules.StrategyAlertOnly:        e.executeAlertOnly,
	}
	log.WithFields(log.Fields{
		"automation":       cfg.EnableAutomation,
		"require_approval": cfg.RequireApprovalForCritical,
	}).Info("Self-healing engine initialized")
	return e
}

// LoadRules loads and retains the enabled rules from a rule file, replacing
// the previous set wholesale. Returns the number of enabled rules.
func (e *Engine) LoadRules(path string) (int, error) {
	all, err := rules.Load(path)
	if err != nil {
		log.WithField("path", path).Errorf("Failed to load self-healing rules: %v", err)
		return 0, err
	}

	enabled := rules.FilterEnabled(all)
	programs := make(map[string]*vm.Program)
	for i := range enabled {
		cond := enabled[i].Conditions.Expression
		if cond == "" {
			continue
		}
		if _, ok := programs[cond]; ok {
			continue
		}
		program, err := expr.Compile(cond, expr.AsBool())
		if err != nil {
			return 0, fmt.Errorf("rule %s: condition expression does not compile: %w", enabled[i].Name, err)
		}
		programs[cond] = program
	}

	e.mu.Lock()
	e.rules = enabled
	e.programs = programs
	e.mu.Unlock()

	log.WithFields(log.Fields{
		"total":    len(all),
		"enabled":  len(enabled),
		"disabled": len(all) - len(enabled),
	}).Info("Self-healing rules loaded")

	return len(enabled), nil
}

// Rules returns the currently loaded (enabled) rules in file order.
func (e *Engine) Rules() []rules.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]rules.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// ExecutionHistory returns per-rule last-success timestamps with derived
// remaining cooldowns.
func (e *Engine) ExecutionHistory() []HistoryEntry {
	snapshot := e.cooldowns.Entries()
	loaded := e.Rules()

	entries := make([]HistoryEntry, 0, len(snapshot))
	for name, last := range snapshot {
		cooldown := e.cfg.DefaultCooldown
		for i := range loaded {
			if loaded[i].Name == name {
				cooldown = rules.ParseDurationDefault(loaded[i].Remediation.Cooldown, e.cfg.DefaultCooldown)
				break
			}
		}
		entries = append(entries, HistoryEntry{
			RuleName:          name,
			LastExecuted:      last,
			CooldownRemaining: e.cooldowns.Remaining(name, cooldown),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RuleName < entries[j].RuleName })
	return entries
}

// EvaluateRule decides whether a rule should trigger. Checks short-circuit
// in order: cooldown, threshold, minOccurrences, timeOfDay, expression.
// Errors never propagate; they become reason "evaluation_error" so one bad
// rule cannot abort a batch.
func (e *Engine) EvaluateRule(ctx context.Context, rule *rules.Rule, supplied *metrics.Aggregate) Evaluation {
	dq := rule.DetectionQuery
	cooldown := rules.ParseDurationDefault(rule.Remediation.Cooldown, e.cfg.DefaultCooldown)

	if remaining := e.cooldowns.Remaining(rule.Name, cooldown); remaining > 0 {
		return Evaluation{
			ShouldTrigger:     false,
			Reason:            ReasonCooldownActive,
			CooldownRemaining: remaining,
		}
	}

	agg := supplied
	if agg == nil {
		fetched, err := e.fetchMetrics(ctx, dq)
		if err != nil {
			log.WithField("rule", rule.Name).Errorf("Rule evaluation failed: %v", err)
			return Evaluation{ShouldTrigger: false, Reason: ReasonEvaluationError, Error: err.Error()}
		}
		agg = &fetched
	}

	if dq.Threshold == nil || agg.Value == nil || !metrics.Compare(*agg.Value, *dq.Threshold, dq.Comparison) {
		return Evaluation{
			ShouldTrigger: false,
			Reason:        ReasonThresholdNotMet,
			CurrentValue:  agg.Value,
			Threshold:     dq.Threshold,
		}
	}

	if required := rule.Conditions.MinOccurrences; required > 0 {
		occurrences, err := e.countRecentBreaches(ctx, rule)
		if err != nil {
			log.WithField("rule", rule.Name).Errorf("Rule evaluation failed: %v", err)
			return Evaluation{ShouldTrigger: false, Reason: ReasonEvaluationError, Error: err.Error()}
		}
		if occurrences < required {
			return Evaluation{
				ShouldTrigger: false,
				Reason:        ReasonMinOccurrences,
				Occurrences:   occurrences,
				Required:      required,
			}
		}
	}

	if tw := rule.Conditions.TimeOfDay; tw != nil && !e.inTimeWindow(tw) {
		return Evaluation{
			ShouldTrigger: false,
			Reason:        ReasonOutsideTimeWindow,
			Window:        tw,
		}
	}

	if cond := rule.Conditions.Expression; cond != "" {
		pass, err := e.evalExpression(cond, agg)
		if err != nil {
			log.WithField("rule", rule.Name).Errorf("Rule evaluation failed: %v", err)
			return Evaluation{ShouldTrigger: false, Reason: ReasonEvaluationError, Error: err.Error()}
		}
		if !pass {
			return Evaluation{ShouldTrigger: false, Reason: ReasonExpressionNotMet}
		}
	}

	return Evaluation{
		ShouldTrigger: true,
		Reason:        ReasonConditionsMet,
		Metrics:       agg,
		Rule:          rule.Name,
	}
}

// EvaluateAndExecute runs the full cycle across all loaded rules, sorted
// ascending by remediation priority (stable, so ties keep file order), one
// remediation at a time. Only triggered rules contribute results.
func (e *Engine) EvaluateAndExecute(ctx context.Context, supplied *metrics.Aggregate) []Execution {
	loaded := e.Rules()
	sort.SliceStable(loaded, func(i, j int) bool {
		return effectivePriority(&loaded[i]) < effectivePriority(&loaded[j])
	})

	results := make([]Execution, 0)
	for i := range loaded {
		rule := &loaded[i]
		evaluation := e.EvaluateRule(ctx, rule, supplied)
		if !evaluation.ShouldTrigger {
			continue
		}

		log.WithFields(log.Fields{
			"rule":   rule.Name,
			"reason": evaluation.Reason,
		}).Info("Rule triggered")

		results = append(results, e.ExecuteRemediation(ctx, rule, &ExecContext{
			Evaluation:  &evaluation,
			TriggeredAt: e.clock.Now(),
		}))
	}
	return results
}

// effectivePriority treats an absent priority as lowest urgency.
func effectivePriority(r *rules.Rule) int {
	if r.Remediation.Priority == 0 {
		return 999
	}
	return r.Remediation.Priority
}

func (e *Engine) fetchMetrics(ctx context.Context, dq rules.DetectionQuery) (metrics.Aggregate, error) {
	if e.metrics == nil {
		return metrics.Aggregate{}, fmt.Errorf("no metrics store configured")
	}
	window := rules.ParseDurationDefault(dq.Window, e.cfg.DefaultCooldown)
	return e.metrics.Query(ctx, metrics.QuerySpec{
		Metric:           dq.Metric,
		ComponentType:    dq.ComponentType,
		ComponentPattern: dq.ComponentPattern,
		Window:           window,
		Aggregation:      dq.Aggregation,
	})
}

func (e *Engine) countRecentBreaches(ctx context.Context, rule *rules.Rule) (int, error) {
	if e.metrics == nil {
		return 0, fmt.Errorf("no metrics store configured")
	}
	dq := rule.DetectionQuery
	threshold := 0.0
	if dq.Threshold != nil {
		threshold = *dq.Threshold
	}
	return e.metrics.CountBreaches(ctx, metrics.QuerySpec{
		Metric:           dq.Metric,
		ComponentType:    dq.ComponentType,
		ComponentPattern: dq.ComponentPattern,
		Window:           rules.ParseDurationDefault(dq.Window, e.cfg.DefaultCooldown),
		Threshold:        threshold,
		Comparison:       dq.Comparison,
	})
}

// inTimeWindow compares the current HH:MM against the window. Start after
// End means the window wraps past midnight (e.g. 22:00-02:00).
func (e *Engine) inTimeWindow(tw *rules.TimeWindow) bool {
	current := e.clock.Now().Format("15:04")
	if tw.Start <= tw.End {
		return current >= tw.Start && current <= tw.End
	}
	return current >= tw.Start || current <= tw.End
}

func (e *Engine) evalExpression(cond string, agg *metrics.Aggregate) (bool, error) {
	e.mu.RLock()
	program, ok := e.programs[cond]
	e.mu.RUnlock()
	if !ok {
		var err error
		program, err = expr.Compile(cond, expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("failed to compile condition %q: %w", cond, err)
		}
		e.mu.Lock()
		e.programs[cond] = program
		e.mu.Unlock()
	}

	env := map[string]interface{}{
		"value":     0.0,
		"count":     agg.Count,
		"component": agg.ComponentID,
	}
	if agg.Value != nil {
		env["value"] = *agg.Value
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to run condition %q: %w", cond, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return a boolean", cond)
	}
	return result, nil
}

// Throttle exposes the engine's request throttle for middleware.
func (e *Engine) Throttle() *ratelimit.Throttle { return e.throttle }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }
