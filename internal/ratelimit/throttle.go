// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ratelimit implements the request throttle flag the
// throttle_requests remediation strategy flips. The throttle is an explicit
// component owned by the engine, not process-global state.
package ratelimit

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unitygrid/sentinel/internal/clock"
)

const (
	// DefaultReductionFactor halves the request budget while throttled.
	DefaultReductionFactor = 0.5
	// DefaultTTL bounds how long a throttle stays applied without renewal.
	DefaultTTL = 15 * time.Minute
)

// State is a snapshot of the throttle.
type State struct {
	Enabled             bool      `json:"enabled"`
	ReductionFactor     float64   `json:"reductionFactor"`
	AppliedAt           time.Time `json:"appliedAt,omitempty"`
	ExpiresAt           time.Time `json:"expiresAt,omitempty"`
	PreviouslyThrottled bool      `json:"previouslyThrottled,omitempty"`
}

// Throttle reduces request throughput for a bounded period, clearing itself
// automatically at expiry.
type Throttle struct {
	mu      sync.Mutex
	state   State
	timer   clock.Timer
	clock   clock.Clock
}

// New creates an idle throttle.
func New(clk clock.Clock) *Throttle {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Throttle{clock: clk}
}

// Apply enables the throttle with the given factor and TTL (zero values use
// the defaults). Re-applying while already throttled restarts the expiry
// timer and reports PreviouslyThrottled.
func (t *Throttle) Apply(factor float64, ttl time.Duration) State {
	if factor <= 0 || factor >= 1 {
		factor = DefaultReductionFactor
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	previously := t.state.Enabled
	if t.timer != nil {
		t.timer.Stop()
	}

	now := t.clock.Now()
	t.state = State{
		Enabled:             true,
		ReductionFactor:     factor,
		AppliedAt:           now,
		ExpiresAt:           now.Add(ttl),
		PreviouslyThrottled: previously,
	}
	t.timer = t.clock.AfterFunc(ttl, t.expire)

	log.WithFields(log.Fields{
		"factor":    factor,
		"expiresAt": t.state.ExpiresAt,
	}).Info("Request throttle applied")

	return t.state
}

func (t *Throttle) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Enabled {
		return
	}
	t.state = State{}
	t.timer = nil
	log.Info("Request throttle expired")
}

// Clear disables the throttle immediately.
func (t *Throttle) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.state = State{}
}

// Active reports whether requests are currently throttled.
func (t *Throttle) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Enabled
}

// State returns a snapshot of the throttle.
func (t *Throttle) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
