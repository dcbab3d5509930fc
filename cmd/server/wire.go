package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/responder/internal/authmw"
	rc "github.com/linnemanlabs/responder/internal/cfg"
	"github.com/linnemanlabs/responder/internal/incident/memstore"
	"github.com/linnemanlabs/responder/internal/incidentapi"
	"github.com/linnemanlabs/responder/internal/judge"
	"github.com/linnemanlabs/responder/internal/llm"
	"github.com/linnemanlabs/responder/internal/llm/claude"
	"github.com/linnemanlabs/responder/internal/notify"
	"github.com/linnemanlabs/responder/internal/notify/slack"
	"github.com/linnemanlabs/responder/internal/pipeline"
	"github.com/linnemanlabs/responder/internal/session"
	"github.com/linnemanlabs/responder/internal/tools"
)

// responder is the incident pipeline and the API in front of it.
type responder struct {
	orchestrator *pipeline.Orchestrator
	api          *incidentapi.API
}

// Wait blocks until background pipeline runs finish or ctx is done.
func (r *responder) Wait(ctx context.Context) error {
	return r.orchestrator.Wait(ctx)
}

// generators holds the LLM used by the stages and the one used by the judge.
type generators struct {
	stage llm.Generator
	judge llm.Generator
}

func newClaudeGenerators(c *rc.Config) generators {
	timeout := time.Duration(c.LLMTimeoutSeconds) * time.Second
	return generators{
		stage: claude.New(c.ClaudeAPIKey, c.ClaudeModel, c.MaxResponseTokens, timeout),
		judge: claude.New(c.ClaudeAPIKey, c.EffectiveJudgeModel(), c.MaxResponseTokens, timeout),
	}
}

// newResponder builds the stores, tools, notifier, orchestrator and API from
// the application config. Pipeline metrics register on reg.
func newResponder(ctx context.Context, L log.Logger, c *rc.Config, gens generators, reg prometheus.Registerer) (*responder, error) {
	registry, err := buildTools(c.KnowledgeBasePath)
	if err != nil {
		return nil, err
	}
	L.Info(ctx, "registered tools", "names", registry.Names(), "knowledge_base_path", c.KnowledgeBasePath)

	// Incidents, sessions and notifications live in process memory for the
	// lifetime of the server; traces are capped.
	incidents := memstore.New()
	sessions := session.NewTracker()
	traces := pipeline.NewTraceRecorder(pipeline.WithTraceLimit(c.MaxTraces))

	var forwarder notify.Forwarder
	if c.SlackWebhookURL != "" {
		forwarder = slack.New(c.SlackWebhookURL, L)
		L.Info(ctx, "notification forwarder enabled", "type", "slack")
	}
	notifications := notify.NewLog(forwarder, L)

	pipelineMetrics := pipeline.NewMetrics(reg)
	evaluator := judge.New(gens.judge, L)
	orchestrator := pipeline.NewOrchestrator(&pipeline.Deps{
		Generator: gens.stage,
		Incidents: incidents,
		Sessions:  sessions,
		Notifier:  notifications,
		Tools:     registry,
		Hooks:     pipelineMetrics.Hooks(),
		Logger:    L,
	}, evaluator, traces)

	// mutating routes require the bearer token when one is configured
	apiDeps := incidentapi.Deps{
		Runner:        orchestrator,
		Incidents:     incidents,
		Sessions:      sessions,
		Traces:        traces,
		Notifications: notifications,
		Judge:         evaluator,
		Limiter:       newSubmitLimiter(c.SubmitRatePerMinute, c.SubmitBurst),
		OnSubmit:      pipelineMetrics.ObserveSubmit,
		Evaluate:      c.Evaluate,
	}
	if c.APIToken != "" {
		apiDeps.WriteGuard = authmw.BearerToken(c.APIToken)
	}

	return &responder{
		orchestrator: orchestrator,
		api:          incidentapi.New(L, apiDeps),
	}, nil
}

// buildTools registers the investigation tools. An empty path uses the
// built-in knowledge base.
func buildTools(kbPath string) (*tools.Registry, error) {
	kb := tools.DefaultKnowledgeBase()
	if kbPath != "" {
		loaded, err := tools.LoadKnowledgeBaseFromFile(kbPath)
		if err != nil {
			return nil, err
		}
		kb = loaded
	}
	return tools.NewRegistry(tools.NewSystemHealth(), tools.IssueDiagnoser{}, kb), nil
}

// newSubmitLimiter returns nil (unlimited) when perMinute is zero.
func newSubmitLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)
}
