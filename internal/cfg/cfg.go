package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
)

// Config holds the application flags of the responder server. The go-core
// packages register their own.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ClaudeAPIKey          string
	ClaudeModel           string
	JudgeModel            string
	MaxResponseTokens     int
	LLMTimeoutSeconds     int
	Evaluate              bool
	SlackWebhookURL       string
	KnowledgeBasePath     string
	SubmitRatePerMinute   int
	SubmitBurst           int
	APIToken              string
	MaxTraces             int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used by the pipeline stages")
	fs.StringVar(&c.JudgeModel, "judge-model", "", "Claude model used for evaluations (empty = claude-model)")
	fs.IntVar(&c.MaxResponseTokens, "max-response-tokens", 4096, "max tokens per LLM completion (1..64000)")
	fs.IntVar(&c.LLMTimeoutSeconds, "llm-timeout-seconds", 120, "per-call LLM timeout in seconds (1..600)")
	fs.BoolVar(&c.Evaluate, "evaluate", true, "evaluate stage outputs by default when a submission does not say")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL notifications are forwarded to")
	fs.StringVar(&c.KnowledgeBasePath, "knowledge-base-path", "", "YAML knowledge base file (empty = built-in articles)")
	fs.IntVar(&c.SubmitRatePerMinute, "submit-rate-per-minute", 30, "incident submissions allowed per minute (0 = unlimited)")
	fs.IntVar(&c.SubmitBurst, "submit-burst", 5, "incident submission burst size")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on mutating API routes (empty = no auth)")
	fs.IntVar(&c.MaxTraces, "max-traces", 1000, "run traces kept in memory, oldest finished traces are dropped first (1..100000)")
}

// EffectiveJudgeModel returns the judge model, falling back to ClaudeModel.
func (c *Config) EffectiveJudgeModel() string {
	if c.JudgeModel != "" {
		return c.JudgeModel
	}
	return c.ClaudeModel
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.MaxResponseTokens <= 0 || c.MaxResponseTokens > 64000 {
		errs = append(errs, fmt.Errorf("invalid MAX_RESPONSE_TOKENS %d (must be 1..64000)", c.MaxResponseTokens))
	}
	if c.LLMTimeoutSeconds <= 0 || c.LLMTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS %d (must be 1..600)", c.LLMTimeoutSeconds))
	}

	// Submission throttling, burst only matters when a rate is set
	if c.SubmitRatePerMinute < 0 || c.SubmitRatePerMinute > 6000 {
		errs = append(errs, fmt.Errorf("invalid SUBMIT_RATE_PER_MINUTE %d (must be 0..6000)", c.SubmitRatePerMinute))
	}
	if c.SubmitRatePerMinute > 0 && (c.SubmitBurst <= 0 || c.SubmitBurst > 1000) {
		errs = append(errs, fmt.Errorf("invalid SUBMIT_BURST %d (must be 1..1000)", c.SubmitBurst))
	}

	if c.MaxTraces <= 0 || c.MaxTraces > 100000 {
		errs = append(errs, fmt.Errorf("invalid MAX_TRACES %d (must be 1..100000)", c.MaxTraces))
	}

	if c.SlackWebhookURL != "" {
		u, err := url.Parse(c.SlackWebhookURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid SLACK_WEBHOOK_URL %q (must be an http(s) URL)", c.SlackWebhookURL))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
