// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the sentinel server.
// It handles loading and parsing the YAML configuration file and layers
// environment variable overrides on top, so deployments can steer the
// self-healing engine without editing the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" or "15m" decode.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is empty ("") to bind all interfaces.
	Host string `yaml:"host"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile controls whether application logs are written to
	// rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogDir is the directory for rotating log files.
	LogDir string `yaml:"log-dir"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of log files under
	// the log directory. Set to 0 to disable pruning.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb"`

	// Inference configures the monitored inference hosts.
	Inference InferenceConfig `yaml:"inference"`

	// Healing configures the self-healing engine.
	Healing HealingConfig `yaml:"healing"`

	// Storage holds database file locations.
	Storage StorageConfig `yaml:"storage"`
}

// InferenceConfig describes the primary/secondary inference host pair the
// failover router manages.
type InferenceConfig struct {
	// PrimaryHost is the default inference endpoint, e.g. http://localhost:11434.
	PrimaryHost string `yaml:"primary-host"`
	// SecondaryHost is the failover target.
	SecondaryHost string `yaml:"secondary-host"`
}

// HealingConfig holds the self-healing engine settings.
type HealingConfig struct {
	// EnableAutomation gates all autonomous remediation. When false, rules
	// still evaluate but every triggered remediation is skipped.
	EnableAutomation bool `yaml:"enable-automation"`

	// RequireApprovalForCritical blocks remediations flagged as requiring
	// approval instead of executing them.
	RequireApprovalForCritical bool `yaml:"require-approval"`

	// MaxConcurrentActions caps remediation parallelism.
	MaxConcurrentActions int `yaml:"max-concurrent-actions"`

	// RulesFile is the path to the JSON rules array.
	RulesFile string `yaml:"rules-file"`

	// EvaluationInterval is how often the engine runs a full
	// evaluate-and-execute cycle.
	EvaluationInterval Duration `yaml:"evaluation-interval"`

	// DefaultCooldown applies to rules that omit a cooldown.
	DefaultCooldown Duration `yaml:"default-cooldown"`

	// DefaultPromptName is the rollback target when a triggering component
	// does not identify a prompt.
	DefaultPromptName string `yaml:"default-prompt-name"`

	// ServiceMap maps remediation action names onto process-manager
	// service names.
	ServiceMap map[string]string `yaml:"service-map"`
}

// StorageConfig holds database file locations.
type StorageConfig struct {
	// MetricsDB is the SQLite file holding metric snapshots.
	MetricsDB string `yaml:"metrics-db"`
	// PromptsDB is the SQLite file holding prompt versions.
	PromptsDB string `yaml:"prompts-db"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Port:   8317,
		LogDir: "logs",
		Inference: InferenceConfig{
			PrimaryHost:   "http://localhost:11434",
			SecondaryHost: "http://192.168.1.100:11434",
		},
		Healing: HealingConfig{
			EnableAutomation:           true,
			RequireApprovalForCritical: true,
			MaxConcurrentActions:       3,
			RulesFile:                  "config/self-healing-rules.json",
			EvaluationInterval:         Duration(time.Minute),
			DefaultCooldown:            Duration(15 * time.Minute),
			DefaultPromptName:          "agentx-system",
		},
		Storage: StorageConfig{
			MetricsDB: "data/metrics.db",
			PromptsDB: "data/prompts.db",
		},
	}
}

// LoadConfig reads and parses the configuration file at path. A missing
// file yields the defaults; a malformed file is an error. Environment
// overrides are applied in both cases.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus environment only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers environment variables over the file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Inference.PrimaryHost = v
	}
	if v := os.Getenv("OLLAMA_HOST_SECONDARY"); v != "" {
		c.Inference.SecondaryHost = v
	}
	if v, ok := envBool("SELF_HEALING_ENABLED"); ok {
		c.Healing.EnableAutomation = v
	}
	if v, ok := envBool("SELF_HEALING_REQUIRE_APPROVAL"); ok {
		c.Healing.RequireApprovalForCritical = v
	}
	if v := os.Getenv("SELF_HEALING_MAX_CONCURRENT_ACTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Healing.MaxConcurrentActions = n
		}
	}
	if v := os.Getenv("SELF_HEALING_RULES_FILE"); v != "" {
		c.Healing.RulesFile = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Port = n
		}
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
