// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func formatEntry(t *testing.T, entry *log.Entry) string {
	t.Helper()
	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	return string(out)
}

func TestLogFormatterBasicLine(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Time:    time.Date(2026, 3, 1, 12, 34, 56, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "Rule triggered\n",
	}

	line := formatEntry(t, entry)
	if !strings.HasPrefix(line, "[2026-03-01 12:34:56] [--------] [info ]") {
		t.Errorf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "Rule triggered") {
		t.Errorf("message missing: %q", line)
	}
	if strings.Contains(line, "\n\n") {
		t.Errorf("trailing newline not trimmed: %q", line)
	}
}

func TestLogFormatterRuleField(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Time:    time.Date(2026, 3, 1, 12, 34, 56, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "cooldown active",
		Data:    log.Fields{"rule": "high-error-rate"},
	}

	line := formatEntry(t, entry)
	if !strings.Contains(line, "[high-error-rate]") {
		t.Errorf("rule id missing: %q", line)
	}
	if !strings.Contains(line, "[warn ]") {
		t.Errorf("warning level not shortened: %q", line)
	}
	if strings.Contains(line, "rule=") {
		t.Errorf("rule field must not repeat in the data suffix: %q", line)
	}
}

func TestLogFormatterExtraFields(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Time:    time.Date(2026, 3, 1, 12, 34, 56, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "metrics",
		Data:    log.Fields{"metric": "error_rate"},
	}

	line := formatEntry(t, entry)
	if !strings.Contains(line, "| metric=error_rate") {
		t.Errorf("data fields missing: %q", line)
	}
}
