// Package claude implements llm.Generator on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/responder/internal/llm"
)

var tracer = otel.Tracer("github.com/linnemanlabs/responder/internal/llm/claude")

// DefaultMaxTokens caps a single completion when the caller passes zero.
const DefaultMaxTokens = 4096

// Client implements llm.Generator for the Claude API.
type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// New creates a Claude client. Retries are disabled: every Generate is
// exactly one upstream call. A zero timeout leaves the deadline to ctx.
func New(apiKey, model string, maxTokens int, timeout time.Duration, opts ...option.RequestOption) *Client {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	return &Client{
		sdk:       anthropic.NewClient(append(base, opts...)...),
		model:     model,
		maxTokens: int64(maxTokens),
		timeout:   timeout,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate sends prompt as a single user message and returns the text of the reply.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.generate"),
		attribute.String("gen_ai.system", "anthropic"),
		attribute.String("gen_ai.request.model", c.model),
		attribute.Int64("gen_ai.request.max_tokens", c.maxTokens),
		attribute.Int("responder.prompt.bytes", len(prompt)),
	))
	defer span.End()

	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("claude: messages.new: %w", err)
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", string(msg.Model)),
		attribute.String("gen_ai.response.finish_reason", string(msg.StopReason)),
		attribute.Int64("gen_ai.usage.input_tokens", msg.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", msg.Usage.OutputTokens),
	)

	text := textFromMessage(msg)
	if strings.TrimSpace(text) == "" {
		span.SetStatus(codes.Error, llm.ErrEmptyResponse.Error())
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

// textFromMessage concatenates the text blocks of a reply, skipping
// thinking and tool blocks.
func textFromMessage(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
