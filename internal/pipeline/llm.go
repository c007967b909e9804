package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 4096

// LLMClient is the completion dependency of the reasoning client. Complete
// returns the raw response text; callers own parsing and fallbacks.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

type completeOptions struct {
	maxTokens   int64
	temperature float64
	hasTemp     bool
}

// CompleteOption adjusts a single completion call.
type CompleteOption func(*completeOptions)

// WithMaxTokens caps the response length for one call.
func WithMaxTokens(n int64) CompleteOption {
	return func(o *completeOptions) { o.maxTokens = n }
}

// WithTemperature sets the sampling temperature for one call.
func WithTemperature(t float64) CompleteOption {
	return func(o *completeOptions) {
		o.temperature = t
		o.hasTemp = true
	}
}

// AnthropicClient implements LLMClient against the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	log       *slog.Logger
}

type AnthropicConfig struct {
	Logger    *slog.Logger
	APIKey    string
	Model     anthropic.Model
	MaxTokens int64
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		log:       cfg.Logger.With("component", "llm"),
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	options := completeOptions{maxTokens: c.maxTokens}
	for _, opt := range opts {
		opt(&options)
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: options.maxTokens,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if options.hasTemp {
		params.Temperature = anthropic.Float(options.temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.log.Error("Completion call failed", "model", c.model, "error", err)
		return "", fmt.Errorf("completion: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New("no text content in completion response")
}

// ErrLLMNotConfigured is returned by the disabled client so every reasoning
// call takes its deterministic fallback path.
var ErrLLMNotConfigured = errors.New("language model not configured")

// DisabledLLM stands in when no language model is configured. An unconfigured
// process still serves the whole fallback chain.
type DisabledLLM struct{}

func (DisabledLLM) Complete(context.Context, string, string, ...CompleteOption) (string, error) {
	return "", ErrLLMNotConfigured
}

// extractJSON pulls the first top-level JSON object out of a completion
// reply, tolerating code fences and surrounding prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "```json"); start != -1 {
		rest := s[start+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if start := strings.Index(s, "```"); start != -1 {
		rest := s[start+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			inner := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(inner, "{") {
				return inner
			}
		}
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
