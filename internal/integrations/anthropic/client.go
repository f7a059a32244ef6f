// Package anthropic streams replies from the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"grimoire/internal/domain"
	"grimoire/internal/generation"
)

const (
	providerName     = "anthropic"
	DefaultModel     = string(anthropic.ModelClaude3_7SonnetLatest)
	defaultMaxTokens = 1024
)

// KeySource resolves the API key used for each request.
type KeySource interface {
	Token(ctx context.Context) (string, error)
}

type Client struct {
	baseURL    string
	model      string
	maxTokens  int64
	maxRetries int
	httpClient *http.Client
	keys       KeySource
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMaxRetries overrides the SDK's retry count for retryable statuses.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

func NewClient(keys KeySource, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("anthropic: key source must not be nil")
	}
	c := &Client{
		model:      DefaultModel,
		maxTokens:  defaultMaxTokens,
		maxRetries: -1,
		keys:       keys,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) requestOptions(apiKey string) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	if c.maxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(c.maxRetries))
	}
	return opts
}

func (c *Client) OpenStream(ctx context.Context, instruction string, history []domain.Message) (generation.Fragments, error) {
	if err := generation.CheckHistory(history); err != nil {
		return nil, err
	}
	apiKey, err := c.keys.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("anthropic: resolve api key: %w", err)
	}
	client := anthropic.NewClient(c.requestOptions(apiKey)...)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  toMessageParams(history),
	}
	if strings.TrimSpace(instruction) != "" {
		params.System = []anthropic.TextBlockParam{{Text: instruction}}
	}

	return generation.Stream(providerName, func(emit func(string) bool) error {
		stream := client.Messages.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			event, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := event.Delta.AsAny().(anthropic.TextDelta)
			if !ok {
				continue
			}
			if !emit(delta.Text) {
				return nil
			}
		}
		return stream.Err()
	}), nil
}

func toMessageParams(history []domain.Message) []anthropic.MessageParam {
	history = generation.Compact(history)
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		if m.Role == domain.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
			continue
		}
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
	}
	return out
}
