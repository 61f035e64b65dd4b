// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package healing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unitygrid/sentinel/internal/alerting"
	"github.com/unitygrid/sentinel/internal/ratelimit"
	"github.com/unitygrid/sentinel/internal/rules"
)

// triggeringComponent resolves the component the rule fired for, falling
// back to the rule's component pattern.
func triggeringComponent(rule *rules.Rule, execCtx *ExecContext) string {
	if execCtx != nil && execCtx.Evaluation != nil && execCtx.Evaluation.Metrics != nil && execCtx.Evaluation.Metrics.ComponentID != "" {
		return execCtx.Evaluation.Metrics.ComponentID
	}
	return rule.DetectionQuery.ComponentPattern
}

// executeModelFailover swaps the active host to its backup and verifies the
// backup before committing. An unhealthy backup reverts the swap and fails
// the remediation, so the system is never left on an unverified backup.
func (e *Engine) executeModelFailover(ctx context.Context, rule *rules.Rule, execCtx *ExecContext) (map[string]interface{}, error) {
	if e.router == nil {
		return nil, fmt.Errorf("no router configured for model_failover")
	}

	component := triggeringComponent(rule, execCtx)
	log.WithFields(log.Fields{
		"component": component,
		"rule":      rule.Name,
	}).Info("Executing model failover")

	currentHost := e.router.ActiveHost()
	backupHost := e.router.BackupHost(currentHost)

	e.router.SwitchHost(backupHost, "self_healing_failover")

	health := e.router.CheckHost(ctx, backupHost)
	if !health.Healthy() {
		e.router.SwitchHost(currentHost, "rollback_unhealthy_backup")
		return nil, fmt.Errorf("backup host is also unhealthy, rollback performed")
	}

	return map[string]interface{}{
		"action":       "model_failover",
		"previousHost": currentHost,
		"newHost":      backupHost,
		"healthCheck":  health,
	}, nil
}

// promptVersionSuffix matches a trailing version segment like ":v3".
var promptVersionSuffix = regexp.MustCompile(`:v\d+$`)

// promptNameFromComponent derives a prompt name from a component id of the
// form "prompt:<name>[:vN]". A missing or wildcard component falls back to
// the configured default prompt.
func (e *Engine) promptNameFromComponent(component string) string {
	name := strings.TrimPrefix(component, "prompt:")
	name = promptVersionSuffix.ReplaceAllString(name, "")
	if name == "" || name == "*" || strings.Contains(name, "*") {
		return e.cfg.DefaultPromptName
	}
	return name
}

// executePromptRollback reverts the triggering prompt to its previous
// version. The swap is atomic in the prompt store: afterwards exactly one
// version is active with full traffic weight.
func (e *Engine) executePromptRollback(ctx context.Context, rule *rules.Rule, execCtx *ExecContext) (map[string]interface{}, error) {
	if e.prompts == nil {
		return nil, fmt.Errorf("no prompt store configured for prompt_rollback")
	}

	promptName := e.promptNameFromComponent(triggeringComponent(rule, execCtx))
	log.WithFields(log.Fields{
		"rule":   rule.Name,
		"prompt": promptName,
	}).Info("Executing prompt rollback")

	from, to, err := e.prompts.Rollback(ctx, promptName)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"action":              "prompt_rollback",
		"promptName":          promptName,
		"previousVersion":     from.Version,
		"rolledBackToVersion": to.Version,
	}, nil
}

// executeServiceRestart reloads the mapped service through the process
// manager, waits for it to settle, and verifies it came back online.
func (e *Engine) executeServiceRestart(ctx context.Context, rule *rules.Rule, execCtx *ExecContext) (map[string]interface{}, error) {
	if e.procs == nil {
		return nil, fmt.Errorf("no process manager configured for service_restart")
	}

	service := rule.Remediation.Action
	if mapped, ok := e.cfg.ServiceMap[service]; ok {
		service = mapped
	}
	if service == "" {
		return nil, fmt.Errorf("no service mapped for rule %s", rule.Name)
	}

	log.WithFields(log.Fields{
		"rule":    rule.Name,
		"service": service,
	}).Info("Executing service restart")

	if err := e.procs.Reload(ctx, service); err != nil {
		return nil, err
	}

	if delay := e.cfg.RestartSettleDelay; delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	processes, err := e.procs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query process status after restart: %w", err)
	}
	for _, p := range processes {
		if p.Name != service {
			continue
		}
		if !p.Online() {
			return nil, fmt.Errorf("service %s is %s after restart", service, p.Status)
		}
		return map[string]interface{}{
			"action":       "service_restart",
			"service":      service,
			"status":       p.Status,
			"restartCount": p.RestartCount,
			"uptimeMs":     p.UptimeMs,
		}, nil
	}
	return nil, fmt.Errorf("service %s not found after restart", service)
}

// executeThrottle applies the bounded request throttle.
func (e *Engine) executeThrottle(_ context.Context, rule *rules.Rule, _ *ExecContext) (map[string]interface{}, error) {
	if e.throttle == nil {
		return nil, fmt.Errorf("no throttle configured for throttle_requests")
	}

	log.WithField("rule", rule.Name).Info("Executing request throttle")
	state := e.throttle.Apply(ratelimit.DefaultReductionFactor, ratelimit.DefaultTTL)

	return map[string]interface{}{
		"action":              "throttle_requests",
		"enabled":             state.Enabled,
		"reductionFactor":     state.ReductionFactor,
		"appliedAt":           state.AppliedAt,
		"expiresAt":           state.ExpiresAt,
		"previouslyThrottled": state.PreviouslyThrottled,
	}, nil
}

// executeAlertOnly raises a deduplicatable alert without touching any other
// engine state.
func (e *Engine) executeAlertOnly(ctx context.Context, rule *rules.Rule, execCtx *ExecContext) (map[string]interface{}, error) {
	if e.alerts == nil {
		return nil, fmt.Errorf("no alert service configured for alert_only")
	}

	component := triggeringComponent(rule, execCtx)
	if component == "" {
		component = "agentx"
	}
	log.WithField("rule", rule.Name).Info("Alert-only action")

	alert, err := e.alerts.Create(ctx, alerting.Alert{
		RuleID:      rule.Name,
		Fingerprint: alerting.Fingerprint(rule.Name, component, rule.DetectionQuery.Metric, string(rules.StrategyAlertOnly)),
		Severity:    alerting.SeverityForPriority(rule.Remediation.Priority),
		Title:       rule.Description,
		Message:     fmt.Sprintf("Self-healing rule triggered: %s", rule.Name),
		Component:   component,
		Metric:      rule.DetectionQuery.Metric,
		Channels:    rule.Notifications.OnTrigger,
		Metadata: map[string]interface{}{
			"ruleName": rule.Name,
			"strategy": string(rule.Remediation.Strategy),
		},
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"action":       "alert_only",
		"alertId":      alert.ID,
		"alertCreated": true,
	}, nil
}
