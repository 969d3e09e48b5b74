// Package llm generates assistant replies with an OpenAI-compatible
// chat-completion API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/agentplexus/omnivoice-receptionist/conversation"
	"github.com/agentplexus/omnivoice-receptionist/obs"
)

const (
	DefaultModel       = "gpt-4.1-nano"
	DefaultMaxTokens   = 100
	DefaultTemperature = 0.8
)

var (
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("llm: API key is required")

	// ErrEmptyResponse is returned when the model returns no choices.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Verify interface compliance at compile time.
var _ conversation.Generator = (*Client)(nil)

// Client is a conversation.Generator backed by chat completions.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// Option configures the Client.
type Option func(*options)

type options struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		o.maxTokens = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *options) {
		o.temperature = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a Client.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	cfg := &options{
		model:       DefaultModel,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.baseURL, "/")
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.model,
		maxTokens:   cfg.maxTokens,
		temperature: cfg.temperature,
		logger:      cfg.logger,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate replays the full transcript and returns the model's reply.
func (c *Client) Generate(ctx context.Context, turns []conversation.Turn) (reply string, err error) {
	ctx, rec := obs.Start(ctx, "llm.chat",
		attribute.String("model", c.model),
		attribute.Int("turns", len(turns)),
	)
	defer func() { rec.End(err) }()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages(turns),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	rec.AddAttributes(attribute.Int("usage.total_tokens", resp.Usage.TotalTokens))
	c.logger.Debug("chat completion",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func messages(turns []conversation.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, openai.ChatCompletionMessage{
			Role:    role(t.Role),
			Content: t.Text,
		})
	}
	return out
}

func role(r conversation.Role) string {
	switch r {
	case conversation.RoleSystem:
		return openai.ChatMessageRoleSystem
	case conversation.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
