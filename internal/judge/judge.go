// Package judge scores agent output with a second text-generation call
// (LLM-as-judge).
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/responder/internal/llm"
)

var tracer = otel.Tracer("github.com/linnemanlabs/responder/internal/judge")

// DefaultScore is reported when the evaluation text carries no score.
const DefaultScore = 7.0

// Recommendation labels.
const (
	RecommendExcellent        = "excellent"
	RecommendGood             = "good"
	RecommendNeedsImprovement = "needs_improvement"
	RecommendPoor             = "poor"
)

// Tried in order against the lower-cased evaluation text.
var scorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`overall score[:\s]+(\d+\.?\d*)`),
	regexp.MustCompile(`score[:\s]+(\d+\.?\d*)`),
	regexp.MustCompile(`(\d+\.?\d*)\s*out of 10`),
}

var recommendationRules = []struct {
	needles []string
	value   string
}{
	{[]string{"excellent"}, RecommendExcellent},
	{[]string{"good"}, RecommendGood},
	{[]string{"needs improvement", "needs_improvement"}, RecommendNeedsImprovement},
	{[]string{"poor"}, RecommendPoor},
}

// Request is one agent output to evaluate.
type Request struct {
	Agent    string         `json:"agent" validate:"required"`
	Task     string         `json:"task" validate:"required"`
	Response string         `json:"response"`
	Context  map[string]any `json:"context,omitempty"`
}

// Evaluation is the judge's verdict. OverallScore is nil when the
// evaluation call failed.
type Evaluation struct {
	Agent          string   `json:"agent"`
	Task           string   `json:"task"`
	Text           string   `json:"evaluation_text,omitempty"`
	OverallScore   *float64 `json:"overall_score"`
	Recommendation string   `json:"recommendation,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Comparison ranks several evaluations.
type Comparison struct {
	Evaluations []*Evaluation `json:"evaluations"`
	BestAgent   *string       `json:"best_agent"`
	BestScore   *float64      `json:"best_score"`
}

// Judge evaluates agent output.
type Judge struct {
	gen    llm.Generator
	logger log.Logger
}

// New creates a judge backed by gen.
func New(gen llm.Generator, logger log.Logger) *Judge {
	if logger == nil {
		logger = log.Nop()
	}
	return &Judge{gen: gen, logger: logger}
}

// Evaluate scores one response. It never returns an error: a failed call
// is reported through Evaluation.Error.
func (j *Judge) Evaluate(ctx context.Context, req Request) *Evaluation {
	ctx, span := tracer.Start(ctx, "judge.evaluate",
		trace.WithAttributes(attribute.String("responder.judge.agent", req.Agent)),
	)
	defer span.End()

	ev := &Evaluation{Agent: req.Agent, Task: req.Task}

	text, err := j.gen.Generate(ctx, buildPrompt(req))
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		j.logger.Warn(ctx, "evaluation failed", "agent", req.Agent, "err", err)
		ev.Error = err.Error()
		return ev
	}

	score := ExtractScore(text)
	ev.Text = text
	ev.OverallScore = &score
	ev.Recommendation = ExtractRecommendation(text)

	span.SetAttributes(
		attribute.Float64("responder.judge.score", score),
		attribute.String("responder.judge.recommendation", ev.Recommendation),
	)
	return ev
}

// Compare evaluates every request and picks the highest score. Entries
// without a score (failed, or zero) are ignored; ties go to the earliest.
func (j *Judge) Compare(ctx context.Context, reqs []Request) *Comparison {
	out := &Comparison{Evaluations: make([]*Evaluation, 0, len(reqs))}
	for _, req := range reqs {
		out.Evaluations = append(out.Evaluations, j.Evaluate(ctx, req))
	}

	for _, ev := range out.Evaluations {
		if ev.OverallScore == nil || *ev.OverallScore == 0 {
			continue
		}
		if out.BestScore == nil || *ev.OverallScore > *out.BestScore {
			score, agent := *ev.OverallScore, ev.Agent
			out.BestScore, out.BestAgent = &score, &agent
		}
	}
	return out
}

// ExtractScore returns the first score found in text, or DefaultScore.
func ExtractScore(text string) float64 {
	lower := strings.ToLower(text)
	for _, re := range scorePatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v
		}
	}
	return DefaultScore
}

// ExtractRecommendation returns the first recommendation label found in
// text, or RecommendGood.
func ExtractRecommendation(text string) string {
	lower := strings.ToLower(text)
	for _, r := range recommendationRules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return r.value
			}
		}
	}
	return RecommendGood
}

func buildPrompt(req Request) string {
	ctxJSON := "{}"
	if len(req.Context) > 0 {
		if b, err := json.Marshal(req.Context); err == nil {
			ctxJSON = string(b)
		}
	}
	return fmt.Sprintf(`You are reviewing the output of an automated incident response agent.

Agent: %s
Task: %s
Agent Response: %s
Context: %s

Rate the response from 1 to 10 on each criterion:
1. Accuracy: is it correct and appropriate?
2. Completeness: does it cover every part of the task?
3. Clarity: is it clear and well structured?
4. Actionability: does it give concrete next steps?
5. Efficiency: is it concise?

Then give:
- A score per criterion
- Overall score (the average)
- Strengths
- Weaknesses
- Recommendation: "excellent", "good", "needs_improvement" or "poor"`,
		req.Agent, req.Task, req.Response, ctxJSON)
}
