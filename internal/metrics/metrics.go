// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics provides the time-windowed metric snapshot store the
// self-healing engine evaluates rules against.
package metrics

import (
	"context"
	"time"

	"github.com/unitygrid/sentinel/internal/rules"
)

// Snapshot is a single metric observation emitted by a component.
type Snapshot struct {
	ID            int64     `json:"id"`
	Component     string    `json:"component"`
	ComponentType string    `json:"componentType,omitempty"`
	Metric        string    `json:"metric"`
	MetricType    string    `json:"metricType"`
	Value         float64   `json:"value"`
	Timestamp     time.Time `json:"timestamp"`
}

// Aggregate is the reduction of the snapshots matching a query. Value is nil
// when no snapshots matched; a nil value never satisfies any threshold.
type Aggregate struct {
	Value       *float64  `json:"value"`
	Count       int       `json:"count"`
	ComponentID string    `json:"componentId,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// QuerySpec selects and reduces snapshots for rule evaluation.
type QuerySpec struct {
	Metric           string
	ComponentType    string
	ComponentPattern string
	Window           time.Duration
	Aggregation      rules.Aggregation

	// Threshold and Comparison are used by CountBreaches only.
	Threshold  float64
	Comparison rules.Comparison
}

// Store is the read/write contract the engine needs from the metrics layer.
type Store interface {
	Insert(ctx context.Context, s Snapshot) error
	Query(ctx context.Context, q QuerySpec) (Aggregate, error)
	// CountBreaches counts snapshots inside the window whose individual
	// values breach the threshold, for minOccurrences conditions.
	CountBreaches(ctx context.Context, q QuerySpec) (int, error)
}

// Compare applies a rule comparison operator between a value and threshold.
func Compare(value, threshold float64, cmp rules.Comparison) bool {
	switch cmp {
	case rules.CompareGreaterThan:
		return value > threshold
	case rules.CompareLessThan:
		return value < threshold
	case rules.CompareEqual:
		return value == threshold
	case rules.CompareGreaterOrEqual:
		return value >= threshold
	case rules.CompareLessOrEqual:
		return value <= threshold
	}
	return false
}

// TypeOf maps a metric name onto its storage type bucket.
func TypeOf(metric string) string {
	switch metric {
	case "health_status":
		return "health"
	case "avg_response_time", "tokens_per_second":
		return "performance"
	case "error_rate", "positive_rate", "quality_score":
		return "quality"
	case "daily_cost":
		return "cost"
	case "memory_percentage", "disk_usage_percentage", "connection_pool_usage":
		return "resource"
	}
	return "usage"
}
