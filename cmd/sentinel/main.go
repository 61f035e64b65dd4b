// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the sentinel server.
// The server watches a fleet of local LLM inference hosts, evaluates
// self-healing rules against collected metrics, executes remediations,
// and routes requests away from degraded hosts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/unitygrid/sentinel/internal/alerting"
	"github.com/unitygrid/sentinel/internal/api"
	"github.com/unitygrid/sentinel/internal/buildinfo"
	"github.com/unitygrid/sentinel/internal/clock"
	"github.com/unitygrid/sentinel/internal/config"
	"github.com/unitygrid/sentinel/internal/healing"
	"github.com/unitygrid/sentinel/internal/logging"
	"github.com/unitygrid/sentinel/internal/metrics"
	"github.com/unitygrid/sentinel/internal/procman"
	"github.com/unitygrid/sentinel/internal/promptstore"
	"github.com/unitygrid/sentinel/internal/ratelimit"
	"github.com/unitygrid/sentinel/internal/router"
	"github.com/unitygrid/sentinel/internal/rules"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	rulesPath := flag.String("rules", "", "override the rules file from the configuration")
	checkRules := flag.Bool("check", false, "validate the rules file and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sentinel %s (%s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	// Optional .env next to the binary, ignored when absent.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *rulesPath != "" {
		cfg.Healing.RulesFile = *rulesPath
	}
	if cfg.Debug {
		logging.SetLevel("debug")
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir, cfg.LogsMaxTotalSizeMB); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	if *checkRules {
		os.Exit(runRuleCheck(cfg.Healing.RulesFile))
	}

	if err := run(cfg); err != nil {
		log.Fatalf("sentinel exited with error: %v", err)
	}
}

// runRuleCheck validates the rules file and prints a report. Exit code 0
// means no errors (warnings allowed).
func runRuleCheck(path string) int {
	all, err := rules.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load rules: %v\n", err)
		return 1
	}

	report := rules.NewValidator().Validate(all)
	fmt.Printf("Rules: %d total, %d enabled\n", report.TotalRules, report.EnabledRules)
	for _, issue := range report.Errors {
		fmt.Printf("ERROR   [%s] %s: %s\n", issue.Rule, issue.Type, issue.Message)
	}
	for _, issue := range report.Warnings {
		fmt.Printf("WARNING [%s] %s: %s\n", issue.Rule, issue.Type, issue.Message)
	}
	if !report.Valid {
		fmt.Println("Validation FAILED")
		return 1
	}
	fmt.Println("Validation passed")
	return 0
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real{}

	metricsStore, err := metrics.OpenSQLStore(ctx, cfg.Storage.MetricsDB, clk)
	if err != nil {
		return fmt.Errorf("failed to open metrics store: %w", err)
	}
	defer metricsStore.Close()

	promptStore, err := promptstore.Open(ctx, cfg.Storage.PromptsDB, clk)
	if err != nil {
		return fmt.Errorf("failed to open prompt store: %w", err)
	}
	defer promptStore.Close()

	alerts := alerting.NewManager(clk)
	health := router.NewHealthTracker(clk)
	rt := router.New(router.Hosts{
		Primary:   cfg.Inference.PrimaryHost,
		Secondary: cfg.Inference.SecondaryHost,
	}, health, alerts, clk)

	engine := healing.New(healing.Config{
		EnableAutomation:           cfg.Healing.EnableAutomation,
		RequireApprovalForCritical: cfg.Healing.RequireApprovalForCritical,
		MaxConcurrentActions:       cfg.Healing.MaxConcurrentActions,
		DefaultCooldown:            cfg.Healing.DefaultCooldown.Std(),
		DefaultPromptName:          cfg.Healing.DefaultPromptName,
		ServiceMap:                 cfg.Healing.ServiceMap,
	}, healing.Deps{
		Metrics:  metricsStore,
		Router:   rt,
		Prompts:  promptStore,
		Procs:    procman.NewCLIManager(""),
		Alerts:   alerts,
		Throttle: ratelimit.New(clk),
		Clock:    clk,
	})

	if _, err := engine.LoadRules(cfg.Healing.RulesFile); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	watcher, err := rules.NewWatcher(cfg.Healing.RulesFile, func() {
		if n, err := engine.LoadRules(cfg.Healing.RulesFile); err != nil {
			log.Errorf("Rules reload failed, keeping previous rule set: %v", err)
		} else {
			log.Infof("Rules reloaded (%d enabled)", n)
		}
	})
	if err != nil {
		log.Warnf("Rules file watching disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	go evaluationLoop(ctx, engine, cfg.Healing.EvaluationInterval.Std())

	server := api.NewServer(engine, rt, alerts)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if err := server.Run(ctx, addr); err != nil {
		return err
	}

	log.Info("sentinel shut down")
	return nil
}

// evaluationLoop runs periodic evaluate-and-execute cycles until ctx ends.
func evaluationLoop(ctx context.Context, engine *healing.Engine, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results := engine.EvaluateAndExecute(ctx, nil)
			if len(results) > 0 {
				log.Infof("Evaluation cycle executed %d remediation(s)", len(results))
			}
		}
	}
}
