package completion

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/HendryAvila/stagehand/internal/agenterr"
)

// Config selects and tunes an OpenAI-compatible backend.
type Config struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// OpenAIClient talks to any server speaking the OpenAI chat API.
type OpenAIClient struct {
	client  *openai.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures an OpenAIClient.
type Option func(*OpenAIClient)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *OpenAIClient) {
		c.logger = l
	}
}

// NewOpenAIClient builds a client from cfg. A zero RatePerSecond disables
// rate limiting.
func NewOpenAIClient(cfg Config, opts ...Option) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	c := &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: slog.Default(),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts Options) (Response, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, agenterr.Wrap(agenterr.GenerationError, err, "rate limit wait")
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: float32(c.cfg.Temperature),
		MaxTokens:   c.cfg.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("completion call failed", "model", c.cfg.Model, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return Response{}, agenterr.Wrap(agenterr.GenerationError, err, "completion timed out")
		}
		return Response{}, agenterr.Wrap(agenterr.GenerationError, err, "completion call failed")
	}
	if len(resp.Choices) == 0 {
		return Response{}, agenterr.New(agenterr.GenerationError, "completion returned no choices")
	}

	choice := resp.Choices[0]
	c.logger.Debug("completion received",
		"model", resp.Model,
		"finish_reason", choice.FinishReason,
		"elapsed", time.Since(start))
	if strings.TrimSpace(choice.Message.Content) == "" {
		return Response{}, agenterr.New(agenterr.GenerationError, "completion returned empty content")
	}
	return Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
	}, nil
}
