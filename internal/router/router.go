// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/unitygrid/sentinel/internal/alerting"
	"github.com/unitygrid/sentinel/internal/clock"
)

// HostKey names one of the two configured inference hosts.
type HostKey string

const (
	HostPrimary   HostKey = "primary"
	HostSecondary HostKey = "secondary"
)

// Hosts holds the base URLs of the inference fleet.
type Hosts struct {
	Primary   string `yaml:"primary" json:"primary"`
	Secondary string `yaml:"secondary" json:"secondary"`
}

// TaskType classifies a request for model selection.
type TaskType string

const (
	TaskQuickChat      TaskType = "quick_chat"
	TaskGeneralChat    TaskType = "general_chat"
	TaskCodeGeneration TaskType = "code_generation"
	TaskCodeReview     TaskType = "code_review"
	TaskDeepReasoning  TaskType = "deep_reasoning"
	TaskAnalysis       TaskType = "analysis"
	TaskSummarization  TaskType = "summarization"
	TaskTranslation    TaskType = "translation"
	TaskEmbeddings     TaskType = "embeddings"
)

// TaskTarget is the preferred model and host for one task type.
type TaskTarget struct {
	Model string  `json:"model"`
	Host  HostKey `json:"host"`
}

// defaultTaskModels maps task types onto installed models. Fast 7B-class
// models live on the primary host; heavy specialists on the secondary.
func defaultTaskModels() map[TaskType]TaskTarget {
	return map[TaskType]TaskTarget{
		TaskQuickChat:      {Model: "qwen2.5:7b-instruct-q4_0", Host: HostPrimary},
		TaskGeneralChat:    {Model: "qwen2.5:7b-instruct-q4_0", Host: HostPrimary},
		TaskCodeGeneration: {Model: "qwen2.5-coder:14b", Host: HostSecondary},
		TaskCodeReview:     {Model: "qwen2.5-coder:14b", Host: HostSecondary},
		TaskDeepReasoning:  {Model: "deepseek-r1:8b", Host: HostSecondary},
		TaskAnalysis:       {Model: "gemma3:12b-it-qat", Host: HostSecondary},
		TaskSummarization:  {Model: "gemma3:12b-it-qat", Host: HostSecondary},
		TaskTranslation:    {Model: "qwen2.5:7b-instruct-q4_0", Host: HostPrimary},
		TaskEmbeddings:     {Model: "nomic-embed-text:latest", Host: HostPrimary},
	}
}

// defaultModelRouting pins known models to a host.
func defaultModelRouting() map[string]HostKey {
	return map[string]HostKey{
		"qwen2.5:7b-instruct-q4_0": HostPrimary,
		"qwen2.5:7b":               HostPrimary,
		"qwen2.5:3b":               HostPrimary,
		"qwen3:4b":                 HostPrimary,
		"qwen3:8b":                 HostPrimary,
		"llama3.2:1b":              HostPrimary,
		"llama2:latest":            HostPrimary,
		"whisper":                  HostPrimary,

		"deepseek-r1:8b":       HostSecondary,
		"deepseek-r1:14b":      HostSecondary,
		"deepseek-r1:32b":      HostSecondary,
		"gemma3:12b-it-qat":    HostSecondary,
		"gemma3:12b":           HostSecondary,
		"gemma3:4b-it-qat":     HostSecondary,
		"qwen2.5-coder:14b":    HostSecondary,
		"qwen2.5-coder:7b":     HostSecondary,
		"qwen3:14b":            HostSecondary,
		"llama3.1:8b":          HostSecondary,
		"olmo2:13b":            HostSecondary,

		"nomic-embed-text":        HostPrimary,
		"nomic-embed-text:latest": HostPrimary,
	}
}

const classificationPrompt = `You are a query classifier. Classify the user's query into exactly one category.

Categories:
- quick_chat: Simple greetings, small talk, basic questions with short answers
- general_chat: General knowledge questions, explanations, advice
- code_generation: Write code, implement features, create functions/classes
- code_review: Review code, find bugs, suggest improvements
- deep_reasoning: Complex multi-step problems, math, logic puzzles
- analysis: Analyze data, documents, compare things, detailed breakdowns
- summarization: Summarize text, condense information
- translation: Translate between languages

Respond with ONLY the category name, nothing else.

User query: `

const (
	classificationModel   = "qwen2.5:7b"
	classificationTimeout = 10 * time.Second
	// latencyFailoverThreshold triggers failover even when a host answers,
	// once its probe latency exceeds this bound.
	latencyFailoverThreshold = 5 * time.Second
)

// FailoverState is the single mutable active-host record. It transitions
// only through SwitchHost.
type FailoverState struct {
	ActiveHost    string `json:"activeHost"`
	Reason        string `json:"reason,omitempty"`
	FailoverCount int    `json:"failoverCount"`
}

// ActionRecord documents one routing-level remediation action.
type ActionRecord struct {
	Timestamp    time.Time              `json:"timestamp"`
	IssueType    string                 `json:"issueType"`
	Severity     alerting.Severity      `json:"severity"`
	Strategy     string                 `json:"strategy"`
	Action       string                 `json:"action"`
	Automated    bool                   `json:"automated"`
	Status       string                 `json:"status"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

// Router assigns (host, model) targets to requests and fails over to the
// backup host when the target is unhealthy or slow.
type Router struct {
	hosts        Hosts
	taskModels   map[TaskType]TaskTarget
	modelRouting map[string]HostKey
	health       *HealthTracker
	alerts       alerting.Service
	client       *http.Client
	clock        clock.Clock

	mu      sync.Mutex
	state   FailoverState
	actions []ActionRecord
}

// New creates a router for the given hosts. alerts may be nil when no alert
// sink is wired (alerts are then dropped).
func New(hosts Hosts, health *HealthTracker, alerts alerting.Service, clk clock.Clock) *Router {
	if clk == nil {
		clk = clock.Real{}
	}
	if health == nil {
		health = NewHealthTracker(clk)
	}
	return &Router{
		hosts:        hosts,
		taskModels:   defaultTaskModels(),
		modelRouting: defaultModelRouting(),
		health:       health,
		alerts:       alerts,
		client:       &http.Client{Timeout: classificationTimeout},
		clock:        clk,
		state:        FailoverState{ActiveHost: hosts.Primary},
	}
}

// Health exposes the model health tracker.
func (r *Router) Health() *HealthTracker { return r.health }

// ActiveHost returns the host currently receiving traffic.
func (r *Router) ActiveHost() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ActiveHost
}

// State returns a copy of the failover state.
func (r *Router) State() FailoverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// BackupHost computes the counterpart of the given host. With two hosts
// configured this is an explicit swap; otherwise the best available
// fallback, never an empty string.
func (r *Router) BackupHost(host string) string {
	primary, secondary := r.hosts.Primary, r.hosts.Secondary
	if primary != "" && secondary != "" {
		if host == primary {
			return secondary
		}
		if host == secondary {
			return primary
		}
		return secondary
	}
	if primary != "" && host != primary {
		return primary
	}
	if secondary != "" && host != secondary {
		return secondary
	}
	log.WithField("host", host).Warn("Could not determine backup host, returning current host")
	return host
}

// SwitchHost atomically points the active host at target. The reason is
// retained on the failover state for operators.
func (r *Router) SwitchHost(target, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.ActiveHost == target {
		return
	}
	r.state.ActiveHost = target
	r.state.Reason = reason
	r.state.FailoverCount++
	log.WithFields(log.Fields{
		"host":   target,
		"reason": reason,
		"count":  r.state.FailoverCount,
	}).Info("Active host switched")
}

// TargetForModel resolves the host URL serving the given model. Unknown
// models fall back on a size heuristic: big or embedding models go to the
// secondary host.
func (r *Router) TargetForModel(model string) string {
	if model == "" {
		return r.hosts.Primary
	}
	normalized := strings.ToLower(strings.TrimSpace(model))
	if key, ok := r.modelRouting[normalized]; ok {
		if url := r.hostURL(key); url != "" {
			return url
		}
	}
	if strings.Contains(normalized, "70b") ||
		strings.Contains(normalized, "32b") ||
		strings.Contains(normalized, "27b") ||
		strings.Contains(normalized, "deepseek") ||
		strings.Contains(normalized, "embed") {
		return r.hosts.Secondary
	}
	return r.hosts.Primary
}

// ModelForTask returns the recommended model and host URL for a task type.
func (r *Router) ModelForTask(task TaskType) (model, hostURL string) {
	target, ok := r.taskModels[task]
	if !ok {
		target = r.taskModels[TaskGeneralChat]
	}
	return target.Model, r.hostURL(target.Host)
}

func (r *Router) hostURL(key HostKey) string {
	switch key {
	case HostPrimary:
		return r.hosts.Primary
	case HostSecondary:
		return r.hosts.Secondary
	}
	return ""
}

func (r *Router) primaryHostForTask(task TaskType) string {
	if _, url := r.ModelForTask(task); strings.TrimSpace(url) != "" {
		return url
	}
	log.Warnf("Invalid task configuration for type %q, falling back to primary host", task)
	return r.hosts.Primary
}

var classificationSanitizer = regexp.MustCompile(`[^a-z_]`)

// ClassifyQuery asks the front-door model to classify a message into a task
// type. Any failure, including timeout, degrades to general_chat.
func (r *Router) ClassifyQuery(ctx context.Context, message string) TaskType {
	reqBody, err := json.Marshal(map[string]interface{}{
		"model":  classificationModel,
		"prompt": classificationPrompt + message,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": 0.1,
			"num_predict": 20,
		},
	})
	if err != nil {
		return TaskGeneralChat
	}

	reqCtx, cancel := context.WithTimeout(ctx, classificationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.hosts.Primary+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return TaskGeneralChat
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Warnf("Classification failed, using default: %v", err)
		return TaskGeneralChat
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warnf("Classification failed: %s", resp.Status)
		return TaskGeneralChat
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TaskGeneralChat
	}

	raw := strings.ToLower(strings.TrimSpace(gjson.GetBytes(body, "response").String()))
	classification := TaskType(classificationSanitizer.ReplaceAllString(raw, ""))
	if _, ok := r.taskModels[classification]; ok {
		log.WithField("classification", classification).Debug("Query classified")
		return classification
	}

	log.WithField("classification", classification).Warn("Unknown classification, defaulting to general_chat")
	return TaskGeneralChat
}

// Options tunes one routing decision.
type Options struct {
	AutoRoute      bool
	TaskType       TaskType
	PreferredModel string
	PreferredHost  string
}

// Decision is the outcome of classify-then-route. Callers must honor the
// returned host and model rather than the originally requested pair.
type Decision struct {
	Host       string       `json:"host"`
	Model      string       `json:"model"`
	FailedOver bool         `json:"failedOver"`
	Health     ModelHealth  `json:"health"`
	TaskType   TaskType     `json:"taskType"`
}

// ClassifyAndRoute classifies the message (unless a task type is supplied),
// picks a target, verifies its health, and fails over to the backup host
// when the target is unhealthy or slower than the latency threshold. A
// failover is committed only after the backup's own probe reports healthy.
func (r *Router) ClassifyAndRoute(ctx context.Context, message string, opts Options) Decision {
	classification := opts.TaskType
	if classification == "" {
		if message != "" {
			classification = r.ClassifyQuery(ctx, message)
		} else {
			classification = TaskGeneralChat
		}
	}

	targetHost := opts.PreferredHost
	if targetHost == "" {
		targetHost = r.primaryHostForTask(classification)
	}
	targetModel := opts.PreferredModel
	if targetModel == "" {
		targetModel, _ = r.ModelForTask(classification)
	}

	originalHost := targetHost
	primaryHealth := r.health.CheckModelHealth(ctx, targetHost, targetModel)

	needsFailover := !primaryHealth.Healthy() ||
		(primaryHealth.AvgResponseTime > 0 && primaryHealth.AvgResponseTime > latencyFailoverThreshold)

	failedOver := false
	if needsFailover {
		log.WithFields(log.Fields{
			"host":   targetHost,
			"model":  targetModel,
			"status": primaryHealth.Status,
		}).Warn("Primary model unhealthy, failing over")

		backupHost := r.BackupHost(targetHost)
		backupHealth := r.health.CheckModelHealth(ctx, backupHost, targetModel)

		if backupHealth.Healthy() {
			r.recordAction(ActionRecord{
				Timestamp: r.clock.Now(),
				IssueType: "model_degradation",
				Severity:  alerting.SeverityMedium,
				Strategy:  "model_failover",
				Action:    fmt.Sprintf("Switched from %s to %s", originalHost, backupHost),
				Automated: true,
				Status:    "succeeded",
				Context: map[string]interface{}{
					"component":    originalHost + ":" + targetModel,
					"metric":       "response_time",
					"threshold":    latencyFailoverThreshold.Milliseconds(),
					"currentValue": primaryHealth.AvgResponseTime.Milliseconds(),
				},
			})
			targetHost = backupHost
			failedOver = true

			if r.alerts != nil {
				_, _ = r.alerts.Create(ctx, alerting.Alert{
					Severity:  alerting.SeverityWarning,
					Title:     "Model Failover Triggered",
					Message:   fmt.Sprintf("Primary model at %s is degraded (%dms). Switched to %s.", originalHost, primaryHealth.AvgResponseTime.Milliseconds(), backupHost),
					Component: originalHost + ":" + targetModel,
					Metric:    "response_time",
				})
			}
		} else {
			log.WithFields(log.Fields{
				"backupHost": backupHost,
				"status":     backupHealth.Status,
			}).Error("Backup host also unhealthy")

			r.recordAction(ActionRecord{
				Timestamp: r.clock.Now(),
				IssueType: "model_degradation",
				Severity:  alerting.SeverityHigh,
				Strategy:  "model_failover",
				Action:    fmt.Sprintf("Failed to switch from %s to %s - both primary and backup hosts are unhealthy", originalHost, backupHost),
				Automated: true,
				Status:    "failed",
				Context: map[string]interface{}{
					"component":    originalHost + ":" + targetModel,
					"metric":       "response_time",
					"backupHost":   backupHost,
					"backupStatus": string(backupHealth.Status),
				},
			})
		}
	}

	return Decision{
		Host:       targetHost,
		Model:      targetModel,
		FailedOver: failedOver,
		Health:     primaryHealth,
		TaskType:   classification,
	}
}

// RouteResult is the outcome of RouteRequest.
type RouteResult struct {
	Model      string      `json:"model"`
	Target     string      `json:"target"`
	TaskType   TaskType    `json:"taskType"`
	Routed     bool        `json:"routed"`
	FailedOver bool        `json:"failedOver,omitempty"`
	Health     *ModelHealth `json:"health,omitempty"`
}

// RouteRequest resolves the model and host for a message. A preferred model
// short-circuits routing; an explicit task type uses the static mapping;
// auto-routing classifies the message and applies health-based failover.
func (r *Router) RouteRequest(ctx context.Context, message string, opts Options) RouteResult {
	if opts.PreferredModel != "" {
		return RouteResult{
			Model:    opts.PreferredModel,
			Target:   r.TargetForModel(opts.PreferredModel),
			TaskType: "user_specified",
		}
	}

	if opts.TaskType != "" {
		if _, ok := r.taskModels[opts.TaskType]; ok {
			model, url := r.ModelForTask(opts.TaskType)
			return RouteResult{
				Model:    model,
				Target:   url,
				TaskType: opts.TaskType,
				Routed:   true,
			}
		}
	}

	if opts.AutoRoute && message != "" {
		decision := r.ClassifyAndRoute(ctx, message, Options{
			PreferredModel: opts.PreferredModel,
		})
		health := decision.Health
		return RouteResult{
			Model:      decision.Model,
			Target:     decision.Host,
			TaskType:   decision.TaskType,
			Routed:     true,
			FailedOver: decision.FailedOver,
			Health:     &health,
		}
	}

	return RouteResult{
		Model:    classificationModel,
		Target:   r.hosts.Primary,
		TaskType: "default",
	}
}

// HostHealth is host-level (not per-model) availability.
type HostHealth struct {
	Status  string        `json:"status"`
	Models  []string      `json:"models"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Healthy reports whether the host answered its listing probe.
func (h HostHealth) Healthy() bool { return h.Status == "online" }

// CheckHostHealth lists the models served by the named host.
func (r *Router) CheckHostHealth(ctx context.Context, key HostKey) HostHealth {
	host := r.hostURL(key)
	if host == "" {
		return HostHealth{Status: "unknown", Models: []string{}, Latency: -1}
	}
	return r.CheckHost(ctx, host)
}

// CheckHost probes a host URL directly.
func (r *Router) CheckHost(ctx context.Context, host string) HostHealth {
	start := r.clock.Now()
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		return HostHealth{Status: "offline", Models: []string{}, Latency: r.clock.Now().Sub(start), Error: err.Error()}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return HostHealth{Status: "offline", Models: []string{}, Latency: r.clock.Now().Sub(start), Error: err.Error()}
	}
	defer resp.Body.Close()

	latency := r.clock.Now().Sub(start)
	if resp.StatusCode != http.StatusOK {
		return HostHealth{Status: "error", Models: []string{}, Latency: latency}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return HostHealth{Status: "error", Models: []string{}, Latency: latency, Error: err.Error()}
	}

	var models []string
	for _, m := range gjson.GetBytes(body, "models").Array() {
		models = append(models, m.Get("name").String())
	}
	return HostHealth{Status: "online", Models: models, Latency: latency}
}

// Status is the full routing picture for dashboards.
type Status struct {
	Hosts        map[HostKey]HostStatusEntry `json:"hosts"`
	ModelRouting map[string]HostKey          `json:"modelRouting"`
	TaskModels   map[TaskType]TaskTarget     `json:"taskModels"`
	Failover     FailoverState               `json:"failover"`
}

// HostStatusEntry pairs a host URL with its current health.
type HostStatusEntry struct {
	URL string `json:"url"`
	HostHealth
}

// RoutingStatus checks both hosts concurrently and reports the routing
// tables alongside.
func (r *Router) RoutingStatus(ctx context.Context) Status {
	var wg sync.WaitGroup
	var primary, secondary HostHealth
	wg.Add(2)
	go func() {
		defer wg.Done()
		primary = r.CheckHostHealth(ctx, HostPrimary)
	}()
	go func() {
		defer wg.Done()
		secondary = r.CheckHostHealth(ctx, HostSecondary)
	}()
	wg.Wait()

	return Status{
		Hosts: map[HostKey]HostStatusEntry{
			HostPrimary:   {URL: r.hosts.Primary, HostHealth: primary},
			HostSecondary: {URL: r.hosts.Secondary, HostHealth: secondary},
		},
		ModelRouting: r.modelRouting,
		TaskModels:   r.taskModels,
		Failover:     r.State(),
	}
}

func (r *Router) recordAction(action ActionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	if len(r.actions) > 1000 {
		r.actions = r.actions[len(r.actions)-1000:]
	}
}

// Actions returns recorded routing-level remediation actions.
func (r *Router) Actions() []ActionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActionRecord, len(r.actions))
	copy(out, r.actions)
	return out
}
