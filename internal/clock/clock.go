// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package clock abstracts wall-clock access so that cooldown and cache TTL
// behavior can be tested deterministically without real sleeps.
package clock

import "time"

// Clock provides the current time and timer scheduling.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer the engine needs.
type Timer interface {
	Stop() bool
}

// Real is the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Fake is a manually advanced clock for tests. Timers fire when Advance
// moves the current time past their deadline.
type Fake struct {
	current time.Time
	timers  []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewFake returns a fake clock pinned at the given time.
func NewFake(at time.Time) *Fake {
	return &Fake{current: at}
}

func (c *Fake) Now() time.Time { return c.current }

func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{deadline: c.current.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires any due timers in deadline order.
func (c *Fake) Advance(d time.Duration) {
	c.current = c.current.Add(d)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.current) {
			t.fired = true
			t.f()
		}
	}
}
