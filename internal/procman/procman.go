// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package procman wraps the external process manager used by the
// service_restart remediation strategy.
package procman

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/tidwall/gjson"
)

// ProcessInfo is the status of one managed process.
type ProcessInfo struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	RestartCount int    `json:"restartCount"`
	UptimeMs     int64  `json:"uptimeMs"`
}

// Online reports whether the process is serving.
func (p ProcessInfo) Online() bool { return p.Status == "online" }

// Manager is the process manager contract the engine needs.
type Manager interface {
	// Reload restarts the named service in place.
	Reload(ctx context.Context, service string) error
	// List returns every managed process with its current status.
	List(ctx context.Context) ([]ProcessInfo, error)
}

// CLIManager drives a PM2-compatible process manager binary.
type CLIManager struct {
	binary string
}

// NewCLIManager creates a manager shelling out to the given binary
// (defaults to "pm2").
func NewCLIManager(binary string) *CLIManager {
	if binary == "" {
		binary = "pm2"
	}
	return &CLIManager{binary: binary}
}

func (m *CLIManager) Reload(ctx context.Context, service string) error {
	cmd := exec.CommandContext(ctx, m.binary, "reload", service)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to reload %s: %w (%s)", service, err, string(out))
	}
	return nil
}

func (m *CLIManager) List(ctx context.Context) ([]ProcessInfo, error) {
	cmd := exec.CommandContext(ctx, m.binary, "jlist")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	parsed := gjson.ParseBytes(out)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("unexpected process list output")
	}

	var processes []ProcessInfo
	for _, p := range parsed.Array() {
		uptime := int64(0)
		if started := p.Get("pm2_env.pm_uptime").Int(); started > 0 {
			uptime = started
		}
		processes = append(processes, ProcessInfo{
			Name:         p.Get("name").String(),
			Status:       p.Get("pm2_env.status").String(),
			RestartCount: int(p.Get("pm2_env.restart_time").Int()),
			UptimeMs:     uptime,
		})
	}
	return processes, nil
}
