// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// durationPattern is the single duration grammar used for both cooldowns and
// detection windows: a positive integer followed by s, m, h, or d.
var durationPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// IsValidDuration reports whether s matches the rule duration grammar.
func IsValidDuration(s string) bool {
	return durationPattern.MatchString(s)
}

// ParseDuration converts a rule duration string (e.g. "30s", "5m", "1h",
// "7d") to a time.Duration.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: want <number><s|m|h|d>", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid duration unit in %q", s)
}

// ParseDurationDefault parses s and falls back to def when s is empty or
// malformed. Used where the original behavior is lenient (engine-side
// parsing of already validated rules).
func ParseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
