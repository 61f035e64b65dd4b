// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package healing

import (
	"sync"
	"time"

	"github.com/unitygrid/sentinel/internal/clock"
)

// CooldownTracker records the last successful execution per rule and derives
// remaining cooldown. State is volatile: a process restart clears it, which
// the design treats as "all cooldowns reset".
type CooldownTracker struct {
	mu    sync.RWMutex
	last  map[string]time.Time
	clock clock.Clock
}

// NewCooldownTracker creates an empty tracker on the given clock.
func NewCooldownTracker(clk clock.Clock) *CooldownTracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &CooldownTracker{
		last:  make(map[string]time.Time),
		clock: clk,
	}
}

// Record marks a successful execution now, starting the rule's cooldown.
// Failed executions are deliberately not recorded so they stay immediately
// eligible for retry.
func (c *CooldownTracker) Record(ruleName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[ruleName] = c.clock.Now()
}

// Remaining returns how much of the rule's cooldown is left; zero when the
// rule may trigger.
func (c *CooldownTracker) Remaining(ruleName string, cooldown time.Duration) time.Duration {
	c.mu.RLock()
	last, ok := c.last[ruleName]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	elapsed := c.clock.Now().Sub(last)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}

// CanExecute reports whether the rule's cooldown has fully elapsed.
func (c *CooldownTracker) CanExecute(ruleName string, cooldown time.Duration) bool {
	return c.Remaining(ruleName, cooldown) == 0
}

// LastExecuted returns the recorded timestamp, if any.
func (c *CooldownTracker) LastExecuted(ruleName string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.last[ruleName]
	return t, ok
}

// Entries returns the rule names with a recorded execution.
func (c *CooldownTracker) Entries() map[string]time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]time.Time, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}
