// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package promptstore persists prompt version records and implements the
// atomic rollback the prompt_rollback remediation strategy depends on.
package promptstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"

	"github.com/unitygrid/sentinel/internal/clock"
)

// ErrNoActiveVersion is returned when a prompt has no active version.
var ErrNoActiveVersion = errors.New("no active prompt found")

// ErrNoPreviousVersion is returned when no version exists below the active one.
var ErrNoPreviousVersion = errors.New("no previous version found")

// Version is one stored prompt version. For any prompt name, exactly one
// version is active with traffic weight 100; all others carry weight 0.
type Version struct {
	ID            int64     `json:"id"`
	PromptName    string    `json:"promptName"`
	Version       int       `json:"version"`
	IsActive      bool      `json:"isActive"`
	TrafficWeight int       `json:"trafficWeight"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Store is the prompt configuration contract the engine needs.
type Store interface {
	ActiveVersion(ctx context.Context, name string) (Version, error)
	PreviousVersion(ctx context.Context, name string, below int) (Version, error)
	Rollback(ctx context.Context, name string) (from, to Version, err error)
}

// SQLStore is a SQLite-backed prompt version store.
type SQLStore struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (creating if needed) the prompt version database at path.
func Open(ctx context.Context, path string, clk clock.Clock) (*SQLStore, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create prompt database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompt database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS prompt_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prompt_name TEXT NOT NULL,
		version INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		traffic_weight INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		UNIQUE(prompt_name, version)
	);

	CREATE INDEX IF NOT EXISTS idx_prompt_versions_name ON prompt_versions(prompt_name);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create prompt schema: %w", err)
	}

	log.Infof("Prompt store initialized (db: %s)", path)
	return &SQLStore{db: db, clock: clk}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Save inserts or updates a prompt version record.
func (s *SQLStore) Save(ctx context.Context, v Version) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_versions (prompt_name, version, is_active, traffic_weight, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(prompt_name, version) DO UPDATE SET
			is_active = excluded.is_active,
			traffic_weight = excluded.traffic_weight,
			updated_at = excluded.updated_at`,
		v.PromptName, v.Version, v.IsActive, v.TrafficWeight, s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save prompt version: %w", err)
	}
	return nil
}

// ActiveVersion returns the currently active, highest version for a prompt.
func (s *SQLStore) ActiveVersion(ctx context.Context, name string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, prompt_name, version, is_active, traffic_weight, updated_at
		FROM prompt_versions
		WHERE prompt_name = ? AND is_active = 1
		ORDER BY version DESC LIMIT 1`, name)
	return scanVersion(row, ErrNoActiveVersion)
}

// PreviousVersion returns the highest version strictly below the given one.
func (s *SQLStore) PreviousVersion(ctx context.Context, name string, below int) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, prompt_name, version, is_active, traffic_weight, updated_at
		FROM prompt_versions
		WHERE prompt_name = ? AND version < ?
		ORDER BY version DESC LIMIT 1`, name, below)
	return scanVersion(row, ErrNoPreviousVersion)
}

// Rollback atomically deactivates the active version (weight 0) and
// activates the highest version below it (weight 100). After a successful
// call, exactly one version of the prompt is active.
func (s *SQLStore) Rollback(ctx context.Context, name string) (Version, Version, error) {
	from, err := s.ActiveVersion(ctx, name)
	if err != nil {
		return Version{}, Version{}, err
	}
	to, err := s.PreviousVersion(ctx, name, from.Version)
	if err != nil {
		return Version{}, Version{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, Version{}, fmt.Errorf("failed to begin rollback transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.clock.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE prompt_versions SET is_active = 0, traffic_weight = 0, updated_at = ?
		WHERE prompt_name = ? AND version = ?`, now, name, from.Version); err != nil {
		return Version{}, Version{}, fmt.Errorf("failed to deactivate version %d: %w", from.Version, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE prompt_versions SET is_active = 1, traffic_weight = 100, updated_at = ?
		WHERE prompt_name = ? AND version = ?`, now, name, to.Version); err != nil {
		return Version{}, Version{}, fmt.Errorf("failed to activate version %d: %w", to.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return Version{}, Version{}, fmt.Errorf("failed to commit rollback: %w", err)
	}

	from.IsActive, from.TrafficWeight = false, 0
	to.IsActive, to.TrafficWeight = true, 100

	log.WithFields(log.Fields{
		"prompt": name,
		"from":   from.Version,
		"to":     to.Version,
	}).Info("Prompt rolled back")

	return from, to, nil
}

func scanVersion(row *sql.Row, notFound error) (Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.PromptName, &v.Version, &v.IsActive, &v.TrafficWeight, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, notFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("failed to scan prompt version: %w", err)
	}
	return v, nil
}
