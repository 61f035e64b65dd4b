// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"

	"github.com/unitygrid/sentinel/internal/clock"
	"github.com/unitygrid/sentinel/internal/rules"
)

// queryLimit caps how many snapshots feed one aggregate, newest first.
const queryLimit = 100

// SQLStore is a SQLite-backed metric snapshot store.
type SQLStore struct {
	db    *sql.DB
	clock clock.Clock
}

// OpenSQLStore opens (creating if needed) the snapshot database at path.
// Pass ":memory:" for an ephemeral store.
func OpenSQLStore(ctx context.Context, path string, clk clock.Clock) (*SQLStore, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create metrics database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics database: %w", err)
	}
	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS metric_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		component TEXT NOT NULL,
		component_type TEXT,
		metric TEXT NOT NULL,
		metric_type TEXT NOT NULL,
		value REAL NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON metric_snapshots(timestamp);
	CREATE INDEX IF NOT EXISTS idx_snapshots_metric_type ON metric_snapshots(metric_type);
	CREATE INDEX IF NOT EXISTS idx_snapshots_component ON metric_snapshots(component);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metrics schema: %w", err)
	}

	log.Infof("Metrics store initialized (db: %s)", path)
	return &SQLStore{db: db, clock: clk}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Insert stores one snapshot. The metric type bucket is derived from the
// metric name when not supplied.
func (s *SQLStore) Insert(ctx context.Context, snap Snapshot) error {
	if snap.MetricType == "" {
		snap.MetricType = TypeOf(snap.Metric)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.clock.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_snapshots (component, component_type, metric, metric_type, value, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Component, snap.ComponentType, snap.Metric, snap.MetricType, snap.Value, snap.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// Query fetches the snapshots matching q, newest first, and reduces them
// with the requested aggregation. An empty result yields a nil Value.
func (s *SQLStore) Query(ctx context.Context, q QuerySpec) (Aggregate, error) {
	snaps, err := s.fetch(ctx, q)
	if err != nil {
		return Aggregate{}, err
	}
	if len(snaps) == 0 {
		return Aggregate{Value: nil, Count: 0}, nil
	}

	var value float64
	switch q.Aggregation {
	case rules.AggregateSum:
		for _, m := range snaps {
			value += m.Value
		}
	case rules.AggregateAvg:
		for _, m := range snaps {
			value += m.Value
		}
		value /= float64(len(snaps))
	case rules.AggregateMax:
		value = snaps[0].Value
		for _, m := range snaps[1:] {
			if m.Value > value {
				value = m.Value
			}
		}
	case rules.AggregateMin:
		value = snaps[0].Value
		for _, m := range snaps[1:] {
			if m.Value < value {
				value = m.Value
			}
		}
	case rules.AggregateCount:
		value = float64(len(snaps))
	default: // latest
		value = snaps[0].Value
	}

	return Aggregate{
		Value:       &value,
		Count:       len(snaps),
		ComponentID: snaps[0].Component,
		Timestamp:   snaps[0].Timestamp,
	}, nil
}

// CountBreaches counts snapshots inside the window whose individual values
// breach the rule threshold.
func (s *SQLStore) CountBreaches(ctx context.Context, q QuerySpec) (int, error) {
	snaps, err := s.fetch(ctx, q)
	if err != nil {
		return 0, err
	}
	breaches := 0
	for _, m := range snaps {
		if Compare(m.Value, q.Threshold, q.Comparison) {
			breaches++
		}
	}
	return breaches, nil
}

func (s *SQLStore) fetch(ctx context.Context, q QuerySpec) ([]Snapshot, error) {
	window := q.Window
	if window <= 0 {
		window = 5 * time.Minute
	}
	since := s.clock.Now().Add(-window).UTC()

	query := `
		SELECT component, component_type, metric, metric_type, value, timestamp
		FROM metric_snapshots
		WHERE timestamp >= ? AND metric_type = ?`
	args := []interface{}{since, TypeOf(q.Metric)}

	if q.ComponentType != "" {
		query += ` AND component_type = ?`
		args = append(args, q.ComponentType)
	}
	if q.ComponentPattern != "" && q.ComponentPattern != "*" {
		query += ` AND component LIKE ?`
		args = append(args, strings.ReplaceAll(q.ComponentPattern, "*", "%"))
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, queryLimit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var m Snapshot
		var componentType sql.NullString
		if err := rows.Scan(&m.Component, &componentType, &m.Metric, &m.MetricType, &m.Value, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		m.ComponentType = componentType.String
		snaps = append(snaps, m)
	}
	return snaps, rows.Err()
}
