// Package openai implements the content generator and the illustrator on top
// of an OpenAI-compatible API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the OpenAI client.
type ClientConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint, including the /v1 suffix.
	BaseURL string

	// Model is the chat model used for section prose.
	Model string

	// ImageModel and ImageSize are used for illustrations.
	ImageModel string
	ImageSize  string

	// MaxTokens bounds a single generation.
	MaxTokens int

	Temperature float32

	// RequestsPerSecond and Burst limit outgoing calls. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int

	// HTTPTimeout is the transport timeout. Callers still pass deadlines
	// through ctx.
	HTTPTimeout time.Duration

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(apiKey string) ClientConfig {
	return ClientConfig{
		APIKey:            apiKey,
		Model:             "gpt-4o-mini",
		ImageModel:        goopenai.CreateImageModelDallE3,
		ImageSize:         goopenai.CreateImageSize1024x1024,
		MaxTokens:         900,
		Temperature:       0.7,
		RequestsPerSecond: 2,
		Burst:             4,
		HTTPTimeout:       60 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements topic.Generator and topic.Illustrator.
type Client struct {
	config  ClientConfig
	api     *goopenai.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var (
	_ topic.Generator   = (*Client)(nil)
	_ topic.Illustrator = (*Client)(nil)
)

// NewClient creates a new OpenAI client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	apiConfig := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		apiConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	if config.HTTPTimeout > 0 {
		apiConfig.HTTPClient = &http.Client{Timeout: config.HTTPTimeout}
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		config:  config,
		api:     goopenai.NewClientWithConfig(apiConfig),
		limiter: rate.NewLimiter(limit, burst),
		logger:  config.Logger.With("component", "openai"),
	}
}

// Generate writes one section. Every failure is reported as a
// GenerationFailure so the resolver can fall back.
func (c *Client) Generate(ctx context.Context, req topic.GenerationRequest) (*topic.GenerationResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, generationError("rate limiter wait", err)
	}

	chatReq := goopenai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
		MaxCompletionTokens: c.config.MaxTokens,
		Temperature:         c.config.Temperature,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		c.logger.Warn("chat completion failed", "model", c.config.Model, "error", err)
		return nil, generationError("chat completion", classify(err))
	}

	if len(resp.Choices) == 0 {
		return nil, shared.ErrMalformedGeneration
	}

	c.logger.Debug("section generated",
		"model", c.config.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"tokens", resp.Usage.TotalTokens,
		"latency", time.Since(start).String(),
	)

	return parseGeneration(resp.Choices[0].Message.Content)
}

// Illustrate generates an image and returns its URL.
func (c *Client) Illustrate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", generationError("rate limiter wait", err)
	}

	resp, err := c.api.CreateImage(ctx, goopenai.ImageRequest{
		Prompt:         prompt,
		Model:          c.config.ImageModel,
		Size:           c.config.ImageSize,
		N:              1,
		ResponseFormat: goopenai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", generationError("create image", classify(err))
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", generationError("create image", errors.New("empty image response"))
	}

	return resp.Data[0].URL, nil
}

func generationError(message string, err error) error {
	return shared.WrapError("topic", "Generate", shared.ErrGenerationFailure, message, err)
}

// classify tags API errors with the shared kinds used for retries and
// circuit breaking.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", shared.ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
		}
		return err
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= 500 {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", shared.ErrTimeout, err)
	}
	return err
}
