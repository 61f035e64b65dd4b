// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router routes inference requests to the appropriate model host,
// tracks per-model health, and performs verified host failover.
package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/unitygrid/sentinel/internal/clock"
)

// HealthState classifies a probe outcome.
type HealthState string

const (
	StateHealthy   HealthState = "healthy"
	StateUnhealthy HealthState = "unhealthy"
)

// ModelHealth is the cached result of probing one (host, model) pair.
type ModelHealth struct {
	Host            string        `json:"host"`
	Model           string        `json:"model"`
	Status          HealthState   `json:"status"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	LastChecked     time.Time     `json:"lastChecked"`
	Error           string        `json:"error,omitempty"`
}

func (h ModelHealth) Healthy() bool { return h.Status == StateHealthy }

const (
	// healthCacheTTL bounds probe frequency per (host, model) pair.
	healthCacheTTL = 60 * time.Second
	probeTimeout   = 5 * time.Second
)

// HealthTracker probes model availability with TTL-cached results. Failed
// probes are cached too, so an unreachable host is not hammered.
type HealthTracker struct {
	mu     sync.Mutex
	cache  map[string]ModelHealth
	client *http.Client
	clock  clock.Clock
	ttl    time.Duration
}

// NewHealthTracker creates a tracker using the given clock.
func NewHealthTracker(clk clock.Clock) *HealthTracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &HealthTracker{
		cache:  make(map[string]ModelHealth),
		client: &http.Client{Timeout: probeTimeout},
		clock:  clk,
		ttl:    healthCacheTTL,
	}
}

// CheckModelHealth returns the health of model on host, probing only when
// the cached entry has expired.
func (t *HealthTracker) CheckModelHealth(ctx context.Context, host, model string) ModelHealth {
	key := host + ":" + model

	t.mu.Lock()
	cached, ok := t.cache[key]
	if ok && t.clock.Now().Sub(cached.LastChecked) < t.ttl {
		t.mu.Unlock()
		return cached
	}
	t.mu.Unlock()

	health := t.probe(ctx, host, model)

	t.mu.Lock()
	t.cache[key] = health
	t.mu.Unlock()

	return health
}

func (t *HealthTracker) probe(ctx context.Context, host, model string) ModelHealth {
	start := t.clock.Now()
	health := ModelHealth{Host: host, Model: model, LastChecked: start}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		health.Status = StateUnhealthy
		health.Error = err.Error()
		return health
	}

	resp, err := t.client.Do(req)
	if err != nil {
		health.Status = StateUnhealthy
		health.Error = err.Error()
		return health
	}
	defer resp.Body.Close()

	health.AvgResponseTime = t.clock.Now().Sub(start)

	if resp.StatusCode != http.StatusOK {
		health.Status = StateUnhealthy
		health.Error = fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
		return health
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		health.Status = StateUnhealthy
		health.Error = err.Error()
		return health
	}

	modelExists := false
	for _, m := range gjson.GetBytes(body, "models").Array() {
		if m.Get("name").String() == model || m.Get("model").String() == model {
			modelExists = true
			break
		}
	}

	if modelExists {
		health.Status = StateHealthy
	} else {
		health.Status = StateUnhealthy
		health.Error = fmt.Sprintf("model %q not present on host", model)
	}
	return health
}

// ClearCache drops all cached probe results.
func (t *HealthTracker) ClearCache() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache = make(map[string]ModelHealth)
}
