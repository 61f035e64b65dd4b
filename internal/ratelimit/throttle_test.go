// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/unitygrid/sentinel/internal/clock"
)

func TestThrottleApplyAndExpire(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	th := New(clk)

	assert.False(t, th.Active())

	state := th.Apply(0, 0)
	assert.True(t, state.Enabled)
	assert.Equal(t, DefaultReductionFactor, state.ReductionFactor)
	assert.False(t, state.PreviouslyThrottled)
	assert.Equal(t, clk.Now().Add(DefaultTTL), state.ExpiresAt)
	assert.True(t, th.Active())

	clk.Advance(DefaultTTL + time.Second)
	assert.False(t, th.Active())
	assert.False(t, th.State().Enabled)
}

func TestThrottleReapplyExtendsAndReportsPriorState(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	th := New(clk)

	th.Apply(0.5, 10*time.Minute)
	clk.Advance(5 * time.Minute)

	state := th.Apply(0.5, 10*time.Minute)
	assert.True(t, state.PreviouslyThrottled)
	assert.Equal(t, clk.Now().Add(10*time.Minute), state.ExpiresAt)

	// The original expiry must not clear the renewed throttle.
	clk.Advance(6 * time.Minute)
	assert.True(t, th.Active())

	clk.Advance(5 * time.Minute)
	assert.False(t, th.Active())
}

func TestThrottleInvalidFactorFallsBackToDefault(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	th := New(clk)

	for _, factor := range []float64{-1, 0, 1, 2.5} {
		state := th.Apply(factor, time.Minute)
		assert.Equal(t, DefaultReductionFactor, state.ReductionFactor, "factor %v", factor)
		th.Clear()
	}
}

func TestThrottleClear(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	th := New(clk)

	th.Apply(0.5, time.Minute)
	th.Clear()
	assert.False(t, th.Active())

	// A cleared timer firing later must not resurrect anything.
	clk.Advance(2 * time.Minute)
	assert.False(t, th.Active())
}
