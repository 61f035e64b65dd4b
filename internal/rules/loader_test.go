// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesRuleArray(t *testing.T) {
	path := writeRulesFile(t, `[
		{
			"name": "high-error-rate",
			"description": "Error rate above 15%",
			"detectionQuery": {
				"metric": "error_rate",
				"aggregation": "avg",
				"threshold": 0.15,
				"comparison": "greater_than",
				"window": "5m",
				"componentPattern": "agent:*"
			},
			"conditions": {"minOccurrences": 3},
			"remediation": {
				"strategy": "model_failover",
				"action": "switch_to_backup",
				"automated": true,
				"cooldown": "15m",
				"priority": 2
			},
			"notifications": {"onTrigger": ["log"]}
		},
		{
			"name": "disabled-rule",
			"enabled": false,
			"detectionQuery": {"metric": "memory_percentage", "threshold": 90, "comparison": "greater_than"},
			"remediation": {"strategy": "service_restart", "action": "dataapi", "priority": 1}
		}
	]`)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	first := loaded[0]
	assert.Equal(t, "high-error-rate", first.Name)
	assert.True(t, first.IsEnabled())
	require.NotNil(t, first.DetectionQuery.Threshold)
	assert.Equal(t, 0.15, *first.DetectionQuery.Threshold)
	assert.Equal(t, AggregateAvg, first.DetectionQuery.Aggregation)
	assert.Equal(t, StrategyModelFailover, first.Remediation.Strategy)
	assert.Equal(t, 3, first.Conditions.MinOccurrences)
	assert.True(t, first.HasNotifications())

	assert.False(t, loaded[1].IsEnabled())
}

func TestLoadRejectsNonArray(t *testing.T) {
	path := writeRulesFile(t, `{"name": "not-an-array"}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a JSON array")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFilterEnabledPreservesOrder(t *testing.T) {
	off := false
	all := []Rule{
		{Name: "a"},
		{Name: "b", Enabled: &off},
		{Name: "c"},
	}
	enabled := FilterEnabled(all)
	require.Len(t, enabled, 2)
	assert.Equal(t, "a", enabled[0].Name)
	assert.Equal(t, "c", enabled[1].Name)
}
