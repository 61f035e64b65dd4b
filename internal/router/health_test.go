// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unitygrid/sentinel/internal/clock"
)

func countingTagsServer(t *testing.T, hits *atomic.Int32, models ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"models":[`)
		for i, m := range models {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"name":%q}`, m)
		}
		fmt.Fprint(w, `]}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCheckModelHealth(t *testing.T) {
	var hits atomic.Int32
	server := countingTagsServer(t, &hits, "qwen2.5:7b")

	tracker := NewHealthTracker(clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	health := tracker.CheckModelHealth(context.Background(), server.URL, "qwen2.5:7b")

	if !health.Healthy() {
		t.Fatalf("status = %q, want healthy (error: %s)", health.Status, health.Error)
	}
	if health.Host != server.URL || health.Model != "qwen2.5:7b" {
		t.Errorf("health identity = %+v", health)
	}
}

func TestCheckModelHealthMissingModel(t *testing.T) {
	var hits atomic.Int32
	server := countingTagsServer(t, &hits, "other-model")

	tracker := NewHealthTracker(clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	health := tracker.CheckModelHealth(context.Background(), server.URL, "qwen2.5:7b")

	if health.Healthy() {
		t.Fatal("missing model must be unhealthy")
	}
	if health.Error == "" {
		t.Error("expected explanatory error")
	}
}

func TestCheckModelHealthCachesWithinTTL(t *testing.T) {
	var hits atomic.Int32
	server := countingTagsServer(t, &hits, "qwen2.5:7b")

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tracker := NewHealthTracker(clk)

	for i := 0; i < 3; i++ {
		tracker.CheckModelHealth(context.Background(), server.URL, "qwen2.5:7b")
	}
	if hits.Load() != 1 {
		t.Fatalf("probes within TTL = %d, want 1", hits.Load())
	}

	clk.Advance(61 * time.Second)
	tracker.CheckModelHealth(context.Background(), server.URL, "qwen2.5:7b")
	if hits.Load() != 2 {
		t.Fatalf("probes after TTL expiry = %d, want 2", hits.Load())
	}
}

func TestCheckModelHealthCachesFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := server.URL
	server.Close()

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tracker := NewHealthTracker(clk)

	first := tracker.CheckModelHealth(context.Background(), url, "qwen2.5:7b")
	if first.Healthy() {
		t.Fatal("closed server must be unhealthy")
	}

	// The failed result is cached; a second check within the TTL returns it
	// without probing the dead host again.
	second := tracker.CheckModelHealth(context.Background(), url, "qwen2.5:7b")
	if second.LastChecked != first.LastChecked {
		t.Error("failure was not served from cache")
	}
}

func TestClearCache(t *testing.T) {
	var hits atomic.Int32
	server := countingTagsServer(t, &hits, "qwen2.5:7b")

	tracker := NewHealthTracker(clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	tracker.CheckModelHealth(context.Background(), server.URL, "qwen2.5:7b")
	tracker.ClearCache()
	tracker.CheckModelHealth(context.Background(), server.URL, "qwen2.5:7b")

	if hits.Load() != 2 {
		t.Errorf("probes after cache clear = %d, want 2", hits.Load())
	}
}
