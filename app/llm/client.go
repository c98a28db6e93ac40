// Package llm answers questions through an OpenAI-compatible chat
// completion endpoint and loads the reference documents quoted to it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/joe02740/wmapp/app/config"
	"github.com/joe02740/wmapp/app/metrics"
)

// ErrNotConfigured is returned by every call when no API key is set.
var ErrNotConfigured = errors.New("language model not configured")

// Answer is the model's reply and the tokens it billed.
type Answer struct {
	Text       string
	TokensUsed int
}

type Client struct {
	api       *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	log       zerolog.Logger
}

func NewClient(cfg config.LLMConfig, log zerolog.Logger) *Client {
	c := &Client{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		log:       log.With().Str("component", "llm").Logger(),
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		c.log.Warn().Msg("LLM_API_KEY is not set; queries will be answered as unavailable")
		return c
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	c.api = openai.NewClientWithConfig(oc)
	return c
}

func (c *Client) Configured() bool { return c.api != nil }

// Ask sends q and waits at most the configured timeout.
func (c *Client) Ask(ctx context.Context, q Question) (Answer, error) {
	if c.api == nil {
		return Answer{}, ErrNotConfigured
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  BuildMessages(q),
		MaxTokens: c.maxTokens,
	})
	status := "ok"
	defer func() {
		metrics.LLMRequestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()
	if err != nil {
		status = "error"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = "timeout"
		}
		return Answer{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		status = "empty"
		return Answer{}, errors.New("chat completion returned no choices")
	}

	tokens := resp.Usage.TotalTokens
	if tokens < 0 {
		tokens = 0
	}
	metrics.TokensConsumed.WithLabelValues(string(q.Scope)).Add(float64(tokens))
	c.log.Debug().Str("scope", string(q.Scope)).Int("tokens", tokens).Dur("took", time.Since(start)).Msg("answered")
	return Answer{Text: resp.Choices[0].Message.Content, TokensUsed: tokens}, nil
}
