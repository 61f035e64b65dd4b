// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package alerting creates alert records and fans them out to configured
// notification channels. Channel transports (email, Slack, webhook) are
// external; a logging notifier ships by default.
package alerting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/unitygrid/sentinel/internal/clock"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
)

// SeverityForPriority maps a rule priority onto an alert severity.
func SeverityForPriority(priority int) Severity {
	switch priority {
	case 1:
		return SeverityCritical
	case 2:
		return SeverityHigh
	case 3:
		return SeverityMedium
	}
	return SeverityLow
}

// Alert is one alert record dispatched to channels.
type Alert struct {
	ID          string                 `json:"id"`
	RuleID      string                 `json:"ruleId,omitempty"`
	Fingerprint string                 `json:"fingerprint"`
	Severity    Severity               `json:"severity"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Component   string                 `json:"component,omitempty"`
	Metric      string                 `json:"metric,omitempty"`
	Channels    []string               `json:"channels,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Fingerprint derives a deterministic hash identifying a logically
// equivalent alert, for deduplication.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

// Notifier delivers an alert over one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Service is the alert creation contract consumed by the engine and router.
type Service interface {
	Create(ctx context.Context, alert Alert) (Alert, error)
}

// Manager assigns identity to alerts and fans them out to the notifiers
// registered for their channels.
type Manager struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	history   []Alert
	clock     clock.Clock
}

// NewManager creates an alert manager with a log-only notifier registered.
func NewManager(clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	m := &Manager{
		notifiers: make(map[string]Notifier),
		clock:     clk,
	}
	m.Register(LogNotifier{})
	return m
}

// Register adds (or replaces) a channel notifier.
func (m *Manager) Register(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers[n.Name()] = n
}

// Create records the alert and dispatches it to each configured channel.
// Delivery failures are logged, never returned: alerting must not abort the
// remediation path that raised it.
func (m *Manager) Create(ctx context.Context, alert Alert) (Alert, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = m.clock.Now()
	}
	if alert.Fingerprint == "" {
		alert.Fingerprint = Fingerprint(alert.RuleID, alert.Component, alert.Metric, string(alert.Severity))
	}

	m.mu.Lock()
	m.history = append(m.history, alert)
	if len(m.history) > 1000 {
		m.history = m.history[len(m.history)-1000:]
	}
	channels := alert.Channels
	notifiers := make(map[string]Notifier, len(m.notifiers))
	for name, n := range m.notifiers {
		notifiers[name] = n
	}
	m.mu.Unlock()

	if len(channels) == 0 {
		channels = []string{"log"}
	}
	for _, channel := range channels {
		n, ok := notifiers[channel]
		if !ok {
			log.Warnf("Alert channel %q not registered, skipping", channel)
			continue
		}
		if err := n.Send(ctx, alert); err != nil {
			log.WithFields(log.Fields{
				"channel": channel,
				"alert":   alert.ID,
			}).Errorf("Failed to send alert: %v", err)
		}
	}

	return alert, nil
}

// History returns recent alerts, newest last.
func (m *Manager) History() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.history))
	copy(out, m.history)
	return out
}

// LogNotifier writes alerts to the application log.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Send(_ context.Context, alert Alert) error {
	log.WithFields(log.Fields{
		"severity":    alert.Severity,
		"component":   alert.Component,
		"fingerprint": alert.Fingerprint,
	}).Warnf("ALERT %s: %s", alert.Title, alert.Message)
	return nil
}
