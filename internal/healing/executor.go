// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package healing

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/unitygrid/sentinel/internal/alerting"
	"github.com/unitygrid/sentinel/internal/rules"
)

// ExecuteRemediation gates and dispatches one remediation. Gate order:
// automation flag, then approval, then strategy execution. The cooldown
// starts only on success; a failed attempt stays immediately eligible for
// retry on the next cycle.
func (e *Engine) ExecuteRemediation(ctx context.Context, rule *rules.Rule, execCtx *ExecContext) Execution {
	remediation := rule.Remediation
	start := e.clock.Now()
	if execCtx == nil {
		execCtx = &ExecContext{TriggeredAt: start}
	}

	if !e.cfg.EnableAutomation {
		log.WithField("rule", rule.Name).Warn("Self-healing automation disabled")
		return Execution{
			Status: StatusSkipped,
			Reason: "automation_disabled",
			Rule:   rule.Name,
		}
	}

	if remediation.RequiresApproval && e.cfg.RequireApprovalForCritical {
		log.WithFields(log.Fields{
			"rule":   rule.Name,
			"action": remediation.Action,
		}).Info("Action requires approval")
		e.sendNotifications(ctx, rule, "onTrigger", execCtx, nil)
		return Execution{
			Status:           StatusPendingApproval,
			Rule:             rule.Name,
			Action:           remediation.Action,
			ApprovalRequired: true,
		}
	}

	e.sendNotifications(ctx, rule, "onTrigger", execCtx, nil)

	handler, ok := e.handlers[remediation.Strategy]
	var result map[string]interface{}
	var err error
	if !ok {
		err = fmt.Errorf("unknown remediation strategy: %s", remediation.Strategy)
	} else {
		result, err = handler(ctx, rule, execCtx)
	}
	duration := e.clock.Now().Sub(start)

	if err != nil {
		log.WithFields(log.Fields{
			"rule":     rule.Name,
			"strategy": remediation.Strategy,
			"duration": duration,
		}).Errorf("Remediation execution failed: %v", err)

		e.sendNotifications(ctx, rule, "onFailure", execCtx, map[string]interface{}{
			"error":    err.Error(),
			"duration": duration.Milliseconds(),
		})
		return Execution{
			Status:   StatusFailed,
			Rule:     rule.Name,
			Action:   remediation.Action,
			Error:    err.Error(),
			Duration: duration,
		}
	}

	e.cooldowns.Record(rule.Name)

	e.sendNotifications(ctx, rule, "onSuccess", execCtx, map[string]interface{}{
		"result":   result,
		"duration": duration.Milliseconds(),
	})

	log.WithFields(log.Fields{
		"rule":     rule.Name,
		"strategy": remediation.Strategy,
		"duration": duration,
	}).Info("Remediation executed successfully")

	return Execution{
		Status:   StatusSuccess,
		Rule:     rule.Name,
		Action:   remediation.Action,
		Result:   result,
		Duration: duration,
	}
}

// sendNotifications creates an alert for the channels configured on the
// given lifecycle event. Notification failures are logged, never returned.
func (e *Engine) sendNotifications(ctx context.Context, rule *rules.Rule, event string, execCtx *ExecContext, extra map[string]interface{}) {
	var channels []string
	switch event {
	case "onTrigger":
		channels = rule.Notifications.OnTrigger
	case "onSuccess":
		channels = rule.Notifications.OnSuccess
	case "onFailure":
		channels = rule.Notifications.OnFailure
	}
	if len(channels) == 0 || e.alerts == nil {
		return
	}

	severity := alerting.SeverityInfo
	if event == "onFailure" {
		severity = alerting.SeverityHigh
	}
	if event == "onTrigger" && rule.Remediation.Priority == 1 {
		severity = alerting.SeverityCritical
	}

	// dataapi_log is satisfied by the application log itself.
	filtered := make([]string, 0, len(channels))
	for _, c := range channels {
		if c != "dataapi_log" {
			filtered = append(filtered, c)
		}
	}

	component := "selfHealingEngine"
	if execCtx != nil && execCtx.Evaluation != nil && execCtx.Evaluation.Metrics != nil && execCtx.Evaluation.Metrics.ComponentID != "" {
		component = execCtx.Evaluation.Metrics.ComponentID
	}

	metadata := map[string]interface{}{
		"eventType": event,
		"ruleName":  rule.Name,
		"strategy":  string(rule.Remediation.Strategy),
	}
	for k, v := range extra {
		metadata[k] = v
	}

	_, err := e.alerts.Create(ctx, alerting.Alert{
		RuleID:    rule.Name,
		Severity:  severity,
		Title:     fmt.Sprintf("Self-Healing: %s - %s", rule.Name, event),
		Message:   formatNotification(rule, event, extra),
		Component: component,
		Metric:    rule.DetectionQuery.Metric,
		Channels:  filtered,
		Metadata:  metadata,
	})
	if err != nil {
		log.WithFields(log.Fields{
			"rule":  rule.Name,
			"event": event,
		}).Errorf("Failed to send notification: %v", err)
	}
}

func formatNotification(rule *rules.Rule, event string, extra map[string]interface{}) string {
	remediation := rule.Remediation
	switch event {
	case "onTrigger":
		return fmt.Sprintf("Self-healing rule triggered: %s\nAction: %s\nStrategy: %s",
			rule.Description, remediation.Action, remediation.Strategy)
	case "onSuccess":
		return fmt.Sprintf("Remediation successful: %s\nAction completed: %s\nDuration: %vms",
			rule.Description, remediation.Action, extra["duration"])
	case "onFailure":
		return fmt.Sprintf("Remediation failed: %s\nAction: %s\nError: %v",
			rule.Description, remediation.Action, extra["error"])
	}
	return rule.Description
}
