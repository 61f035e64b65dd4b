// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rules

import (
	"bytes"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// Load reads a rule file and decodes it. The file must contain a JSON array
// of rule objects; anything else is rejected outright.
func Load(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("rules configuration must be a JSON array")
	}

	var loaded []Rule
	if err := json.Unmarshal(trimmed, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"path":  path,
		"total": len(loaded),
	}).Debug("Rules file decoded")

	return loaded, nil
}

// FilterEnabled returns only the rules that participate in evaluation,
// preserving file order.
func FilterEnabled(all []Rule) []Rule {
	enabled := make([]Rule, 0, len(all))
	for _, r := range all {
		if r.IsEnabled() {
			enabled = append(enabled, r)
		}
	}
	return enabled
}
