// Package ai implements the Classifier and Responder collaborators on top
// of the Anthropic API, with retry, circuit breaking, and bounded
// concurrency. Keyword-based fallbacks cover deployments with no API key.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
)

// ModelDefault is the model used for classification and drafting.
const ModelDefault = "claude-3-5-haiku-20241022"

// Config holds client configuration.
type Config struct {
	// APIKey is the Anthropic API key; read from ANTHROPIC_API_KEY when empty
	APIKey string
	// Model overrides ModelDefault
	Model string
	// MaxConcurrentCalls bounds simultaneous API calls (default: 3)
	MaxConcurrentCalls int64
	// Retry overrides DefaultRetryConfig. The zero value means defaults; a
	// populated config with MaxRetries 0 disables retries.
	Retry RetryConfig

	Logger *slog.Logger
}

// Client is an Anthropic-backed implementation of both pipeline
// collaborators.
type Client struct {
	client  *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *circuitBreaker
	sem     *semaphore.Weighted
	log     *slog.Logger
}

// NewClient creates an AI client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = ModelDefault
	}
	retry := cfg.Retry
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig()
	}
	maxCalls := cfg.MaxConcurrentCalls
	if maxCalls <= 0 {
		maxCalls = 3
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client:  &client,
		model:   model,
		retry:   retry,
		breaker: newCircuitBreaker(retry),
		sem:     semaphore.NewWeighted(maxCalls),
		log:     log,
	}, nil
}

// complete sends one prompt and returns the concatenated text blocks.
func (c *Client) complete(ctx context.Context, operation, prompt string, maxTokens int64) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquiring API slot for %s: %w", operation, err)
	}
	defer c.sem.Release(1)

	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", err
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	c.log.Debug("API call completed", "operation", operation,
		"input_tokens", response.Usage.InputTokens, "output_tokens", response.Usage.OutputTokens)
	return text, nil
}
