// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"1h", time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"0s", 0},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseDurationRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "5", "m", "5ms", "5 m", "-5m", "1.5h", "5w", "5m5s"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
		assert.False(t, IsValidDuration(in), in)
	}
}

func TestParseDurationDefault(t *testing.T) {
	def := 15 * time.Minute
	assert.Equal(t, def, ParseDurationDefault("", def))
	assert.Equal(t, def, ParseDurationDefault("bogus", def))
	assert.Equal(t, 30*time.Second, ParseDurationDefault("30s", def))
}
