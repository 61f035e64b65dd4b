// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package healing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitygrid/sentinel/internal/alerting"
	"github.com/unitygrid/sentinel/internal/clock"
	"github.com/unitygrid/sentinel/internal/metrics"
	"github.com/unitygrid/sentinel/internal/procman"
	"github.com/unitygrid/sentinel/internal/promptstore"
	"github.com/unitygrid/sentinel/internal/ratelimit"
	"github.com/unitygrid/sentinel/internal/router"
	"github.com/unitygrid/sentinel/internal/rules"
)

// stubMetrics returns canned aggregates and breach counts.
type stubMetrics struct {
	agg      metrics.Aggregate
	queryErr error
	breaches int
	countErr error
}

func (s *stubMetrics) Insert(context.Context, metrics.Snapshot) error { return nil }

func (s *stubMetrics) Query(context.Context, metrics.QuerySpec) (metrics.Aggregate, error) {
	return s.agg, s.queryErr
}

func (s *stubMetrics) CountBreaches(context.Context, metrics.QuerySpec) (int, error) {
	return s.breaches, s.countErr
}

type switchCall struct {
	target string
	reason string
}

// stubRouter implements HostRouter with scripted backup health.
type stubRouter struct {
	active        string
	backup        string
	backupHealthy bool
	switches      []switchCall
}

func (s *stubRouter) ActiveHost() string { return s.active }

func (s *stubRouter) BackupHost(host string) string { return s.backup }

func (s *stubRouter) SwitchHost(target, reason string) {
	s.switches = append(s.switches, switchCall{target: target, reason: reason})
	s.active = target
}

func (s *stubRouter) CheckHost(ctx context.Context, host string) router.HostHealth {
	if host == s.backup && !s.backupHealthy {
		return router.HostHealth{Status: "offline", Error: "connection refused"}
	}
	return router.HostHealth{Status: "online"}
}

// stubPrompts scripts the rollback outcome.
type stubPrompts struct {
	from promptstore.Version
	to   promptstore.Version
	err  error

	rolledBack []string
}

func (s *stubPrompts) ActiveVersion(context.Context, string) (promptstore.Version, error) {
	return s.from, s.err
}

func (s *stubPrompts) PreviousVersion(context.Context, string, int) (promptstore.Version, error) {
	return s.to, s.err
}

func (s *stubPrompts) Rollback(_ context.Context, name string) (promptstore.Version, promptstore.Version, error) {
	if s.err != nil {
		return promptstore.Version{}, promptstore.Version{}, s.err
	}
	s.rolledBack = append(s.rolledBack, name)
	return s.from, s.to, nil
}

// stubProcs records reloads and reports a scripted process list.
type stubProcs struct {
	reloaded  []string
	reloadErr error
	processes []procman.ProcessInfo
	listErr   error
}

func (s *stubProcs) Reload(_ context.Context, service string) error {
	if s.reloadErr != nil {
		return s.reloadErr
	}
	s.reloaded = append(s.reloaded, service)
	return nil
}

func (s *stubProcs) List(context.Context) ([]procman.ProcessInfo, error) {
	return s.processes, s.listErr
}

// recordingAlerts captures every alert instead of dispatching it.
type recordingAlerts struct {
	alerts []alerting.Alert
}

func (r *recordingAlerts) Create(_ context.Context, a alerting.Alert) (alerting.Alert, error) {
	r.alerts = append(r.alerts, a)
	return a, nil
}

type testDeps struct {
	metrics  *stubMetrics
	router   *stubRouter
	prompts  *stubPrompts
	procs    *stubProcs
	alerts   *recordingAlerts
	throttle *ratelimit.Throttle
	clock    *clock.Fake
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *testDeps) {
	t.Helper()
	d := &testDeps{
		metrics: &stubMetrics{},
		router:  &stubRouter{active: "http://primary:11434", backup: "http://secondary:11434", backupHealthy: true},
		prompts: &stubPrompts{
			from: promptstore.Version{PromptName: "agentx-system", Version: 3, IsActive: true, TrafficWeight: 100},
			to:   promptstore.Version{PromptName: "agentx-system", Version: 2},
		},
		procs:  &stubProcs{processes: []procman.ProcessInfo{{Name: "dataapi", Status: "online", RestartCount: 1, UptimeMs: 12345}}},
		alerts: &recordingAlerts{},
		clock:  clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	d.throttle = ratelimit.New(d.clock)
	engine := New(cfg, Deps{
		Metrics:  d.metrics,
		Router:   d.router,
		Prompts:  d.prompts,
		Procs:    d.procs,
		Alerts:   d.alerts,
		Throttle: d.throttle,
		Clock:    d.clock,
	})
	return engine, d
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RestartSettleDelay = 0
	return cfg
}

func triggerRule(name string, strategy rules.Strategy) rules.Rule {
	threshold := 0.15
	return rules.Rule{
		Name:        name,
		Description: "error rate above threshold",
		DetectionQuery: rules.DetectionQuery{
			Metric:      "error_rate",
			Aggregation: rules.AggregateAvg,
			Threshold:   &threshold,
			Comparison:  rules.CompareGreaterThan,
			Window:      "5m",
		},
		Remediation: rules.Remediation{
			Strategy:  strategy,
			Action:    "remediate",
			Automated: true,
			Cooldown:  "15m",
			Priority:  2,
		},
		Notifications: rules.Notifications{
			OnTrigger: []string{"log"},
			OnSuccess: []string{"log"},
			OnFailure: []string{"log"},
		},
	}
}

// loadRules round-trips a rule set through a temp file into the engine.
func loadRules(t *testing.T, e *Engine, set []rules.Rule) {
	t.Helper()
	data, err := json.Marshal(set)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	_, err = e.LoadRules(path)
	require.NoError(t, err)
}

func aggregate(value float64, count int) *metrics.Aggregate {
	return &metrics.Aggregate{Value: &value, Count: count, ComponentID: "agent:planner"}
}

func TestEvaluateRuleThreshold(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())
	rule := triggerRule("threshold", rules.StrategyAlertOnly)

	cases := []struct {
		name    string
		agg     *metrics.Aggregate
		trigger bool
	}{
		{"breach", aggregate(0.30, 5), true},
		{"exact threshold not a breach", aggregate(0.15, 5), false},
		{"below threshold", aggregate(0.05, 5), false},
		{"no data never triggers", &metrics.Aggregate{Count: 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := engine.EvaluateRule(context.Background(), &rule, tc.agg)
			assert.Equal(t, tc.trigger, ev.ShouldTrigger)
			if !tc.trigger {
				assert.Equal(t, ReasonThresholdNotMet, ev.Reason)
			} else {
				assert.Equal(t, ReasonConditionsMet, ev.Reason)
			}
		})
	}
}

func TestEvaluateRuleFetchesMetricsWhenNotSupplied(t *testing.T) {
	engine, deps := newTestEngine(t, testConfig())
	deps.metrics.agg = *aggregate(0.4, 7)

	rule := triggerRule("fetch", rules.StrategyAlertOnly)
	ev := engine.EvaluateRule(context.Background(), &rule, nil)
	assert.True(t, ev.ShouldTrigger)
	require.NotNil(t, ev.Metrics)
	assert.Equal(t, 7, ev.Metrics.Count)
}

func TestEvaluateRuleMetricsErrorBecomesEvaluationError(t *testing.T) {
	engine, deps := newTestEngine(t, testConfig())
	deps.metrics.queryErr = errors.New("database locked")

	rule := triggerRule("broken", rules.StrategyAlertOnly)
	ev := engine.EvaluateRule(context.Background(), &rule, nil)
	assert.False(t, ev.ShouldTrigger)
	assert.Equal(t, ReasonEvaluationError, ev.Reason)
	assert.Contains(t, ev.Error, "database locked")
}

func TestEvaluateRuleMinOccurrences(t *testing.T) {
	engine, deps := newTestEngine(t, testConfig())
	deps.metrics.breaches = 2

	rule := triggerRule("occurrences", rules.StrategyAlertOnly)
	rule.Conditions.MinOccurrences = 3

	ev := engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.False(t, ev.ShouldTrigger)
	assert.Equal(t, ReasonMinOccurrences, ev.Reason)
	assert.Equal(t, 2, ev.Occurrences)
	assert.Equal(t, 3, ev.Required)

	deps.metrics.breaches = 3
	ev = engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.True(t, ev.ShouldTrigger)
}

func TestEvaluateRuleTimeOfDay(t *testing.T) {
	// Fake clock pinned at 12:00.
	engine, deps := newTestEngine(t, testConfig())
	rule := triggerRule("daytime", rules.StrategyAlertOnly)
	rule.Conditions.TimeOfDay = &rules.TimeWindow{Start: "09:00", End: "17:00"}

	ev := engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.True(t, ev.ShouldTrigger)

	deps.clock.Advance(8 * time.Hour) // 20:00
	ev = engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.False(t, ev.ShouldTrigger)
	assert.Equal(t, ReasonOutsideTimeWindow, ev.Reason)
}

func TestEvaluateRuleTimeOfDayWrapsMidnight(t *testing.T) {
	engine, deps := newTestEngine(t, testConfig())
	rule := triggerRule("night", rules.StrategyAlertOnly)
	rule.Conditions.TimeOfDay = &rules.TimeWindow{Start: "22:00", End: "02:00"}

	// 12:00 is outside 22:00-02:00.
	ev := engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.Equal(t, ReasonOutsideTimeWindow, ev.Reason)

	deps.clock.Advance(11 * time.Hour) // 23:00
	ev = engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.True(t, ev.ShouldTrigger)

	deps.clock.Advance(2 * time.Hour) // 01:00
	ev = engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.True(t, ev.ShouldTrigger)
}

func TestEvaluateRuleExpression(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())
	rule := triggerRule("expr", rules.StrategyAlertOnly)
	rule.Conditions.Expression = "count >= 5"

	ev := engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 7))
	assert.True(t, ev.ShouldTrigger)

	ev = engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 2))
	assert.False(t, ev.ShouldTrigger)
	assert.Equal(t, ReasonExpressionNotMet, ev.Reason)
}

func TestEvaluateRuleBadExpressionBecomesEvaluationError(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())
	rule := triggerRule("bad-expr", rules.StrategyAlertOnly)
	rule.Conditions.Expression = "value ++ nonsense"

	ev := engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.False(t, ev.ShouldTrigger)
	assert.Equal(t, ReasonEvaluationError, ev.Reason)
}

func TestExecuteRemediationStartsCooldownOnSuccessOnly(t *testing.T) {
	engine, deps := newTestEngine(t, testConfig())
	rule := triggerRule("cooldown", rules.StrategyModelFailover)

	// First attempt fails: backup unhealthy, no cooldown starts.
	deps.router.backupHealthy = false
	exec := engine.ExecuteRemediation(context.Background(), &rule, nil)
	assert.Equal(t, StatusFailed, exec.Status)

	ev := engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.True(t, ev.ShouldTrigger, "failed remediation must stay eligible for retry")

	// Second attempt succeeds and the cooldown gate closes.
	deps.router.backupHealthy = true
	deps.router.active = "http://primary:11434"
	exec = engine.ExecuteRemediation(context.Background(), &rule, nil)
	assert.Equal(t, StatusSuccess, exec.Status)

	ev = engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.False(t, ev.ShouldTrigger)
	assert.Equal(t, ReasonCooldownActive, ev.Reason)
	assert.Equal(t, 15*time.Minute, ev.CooldownRemaining)

	deps.clock.Advance(16 * time.Minute)
	ev = engine.EvaluateRule(context.Background(), &rule, aggregate(0.3, 5))
	assert.True(t, ev.ShouldTrigger)
}

func TestExecuteRemediationAutomationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableAutomation = false
	engine, deps := newTestEngine(t, cfg)

	rule := triggerRule("disabled", rules.StrategyServiceRestart)
	exec := engine.ExecuteRemediation(context.Background(), &rule, nil)

	assert.Equal(t, StatusSkipped, exec.Status)
	assert.Equal(t, "automation_disabled", exec.Reason)
	assert.Empty(t, deps.procs.reloaded)
	assert.Empty(t, deps.alerts.alerts, "skipped remediations must not notify")

	_, recorded := engine.cooldowns.LastExecuted(rule.Name)
	assert.False(t, recorded)
}

func TestExecuteRemediationPendingApproval(t *testing.T) {
	engine, deps := newTestEngine(t, testConfig())

	rule := triggerRule("approval", rules.StrategyServiceRestart)
	rule.Remediation.RequiresApproval = true

	exec := engine.ExecuteRemediation(context.Background(), &rule, nil)
	assert.Equal(t, StatusPendingApproval, exec.Status)
	assert.True(t, exec.ApprovalRequired)
	assert.Empty(t, deps.procs.reloaded, "pending approval must not touch the process manager")
	require.Len(t, deps.alerts.alerts, 1, "onTrigger notification still fires")
	assert.Equal(t, "approval", deps.alerts.alerts[0].RuleID)
}

func TestExecuteRemediationUnknownStrategy(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())
	rule := triggerRule("unknown", rules.Strategy("teleport"))

	exec := engine.ExecuteRemediation(context.Background(), &rule, nil)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "unknown remediation strategy")
}

func TestExecuteRemediationNotificationSeverity(t *testing.T) {
	engine, deps := newTestEngine(t, testConfig())

	rule := triggerRule("critical", rules.StrategyAlertOnly)
	rule.Remediation.Priority = 1
	exec := engine.ExecuteRemediation(context.Background(), &rule, nil)
	require.Equal(t, StatusSuccess, exec.Status)

	// onTrigger for priority 1 is critical; onSuccess stays info. The
	// alert_only strategy itself raises one more alert in between.
	require.GreaterOrEqual(t, len(deps.alerts.alerts), 3)
	first := deps.alerts.alerts[0]
	last := deps.alerts.alerts[len(deps.alerts.alerts)-1]
	assert.Equal(t, alerting.SeverityCritical, first.Severity)
	assert.Equal(t, alerting.SeverityInfo, last.Severity)
}

func TestExecuteRemediationFiltersDataAPILogChannel(t *testing.T) {
	engine, deps := newTestEngine(t, testConfig())

	rule := triggerRule("filtered", rules.StrategyThrottleRequests)
	rule.Notifications = rules.Notifications{OnTrigger: []string{"dataapi_log", "log"}}

	exec := engine.ExecuteRemediation(context.Background(), &rule, nil)
	require.Equal(t, StatusSuccess, exec.Status)
	require.NotEmpty(t, deps.alerts.alerts)
	assert.Equal(t, []string{"log"}, deps.alerts.alerts[0].Channels)
}

func TestEvaluateAndExecuteRunsInPriorityOrder(t *testing.T) {
	engine, deps := newTestEngine(t, testConfig())

	low := triggerRule("low", rules.StrategyAlertOnly)
	low.Remediation.Priority = 3
	high := triggerRule("high", rules.StrategyAlertOnly)
	high.Remediation.Priority = 1
	unset := triggerRule("unset", rules.StrategyAlertOnly)
	unset.Remediation.Priority = 0

	loadRules(t, engine, []rules.Rule{low, unset, high})

	results := engine.EvaluateAndExecute(context.Background(), aggregate(0.3, 5))
	require.Len(t, results, 3)
	assert.Equal(t, "high", results[0].Rule)
	assert.Equal(t, "low", results[1].Rule)
	assert.Equal(t, "unset", results[2].Rule, "missing priority sorts last")
	assert.NotEmpty(t, deps.alerts.alerts)
}

func TestEvaluateAndExecuteSkipsNonTriggered(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())

	hot := triggerRule("hot", rules.StrategyAlertOnly)
	cold := triggerRule("cold", rules.StrategyAlertOnly)
	coldThreshold := 0.99
	cold.DetectionQuery.Threshold = &coldThreshold

	loadRules(t, engine, []rules.Rule{hot, cold})

	results := engine.EvaluateAndExecute(context.Background(), aggregate(0.3, 5))
	require.Len(t, results, 1)
	assert.Equal(t, "hot", results[0].Rule)
}

func TestExecutionHistory(t *testing.T) {
	engine, deps := newTestEngine(t, testConfig())

	rule := triggerRule("tracked", rules.StrategyThrottleRequests)
	exec := engine.ExecuteRemediation(context.Background(), &rule, nil)
	require.Equal(t, StatusSuccess, exec.Status)

	deps.clock.Advance(5 * time.Minute)
	loadRules(t, engine, []rules.Rule{rule})

	history := engine.ExecutionHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "tracked", history[0].RuleName)
	assert.Equal(t, 10*time.Minute, history[0].CooldownRemaining)
}
