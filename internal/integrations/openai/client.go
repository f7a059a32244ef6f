package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"grimoire/internal/domain"
	"grimoire/internal/generation"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// KeySource resolves the API key used for each request.
type KeySource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client streams chat completions from an OpenAI-compatible endpoint.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	keys       KeySource
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

// NewClient creates a Client that asks keys for the API key on every call.
// Caching, e.g. a single SSM read per process, is the KeySource's concern.
func NewClient(keys KeySource, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("openai: key source must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		keys:       keys,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiBaseURL normalizes a configured base URL to the "/v1" root go-openai expects.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 2 * time.Minute}
}

// OpenStream validates history and resolves the API key. The completion request
// itself is sent when the returned Fragments is first ranged over.
func (c *Client) OpenStream(ctx context.Context, instruction string, history []domain.Message) (generation.Fragments, error) {
	if err := generation.CheckHistory(history); err != nil {
		return nil, err
	}
	if c.model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	apiKey, err := c.keys.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai: resolve api key: %w", err)
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = apiBaseURL(c.baseURL)
	cfg.HTTPClient = c.resolvedHTTPClient()
	api := goopenai.NewClientWithConfig(cfg)

	req := goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toChatMessages(instruction, history),
		Stream:   true,
	}
	url := cfg.BaseURL + "/chat/completions"

	return generation.Stream(providerName, func(emit func(string) bool) error {
		stream, err := api.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return mapError(err, url)
		}
		defer stream.Close()

		for {
			res, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return mapError(err, url)
			}
			if len(res.Choices) == 0 {
				continue
			}
			if !emit(res.Choices[0].Delta.Content) {
				return nil
			}
		}
	}), nil
}

func toChatMessages(instruction string, history []domain.Message) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(history)+1)
	if strings.TrimSpace(instruction) != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: instruction,
		})
	}
	for _, m := range generation.Compact(history) {
		role := goopenai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	return msgs
}

// mapError converts go-openai status errors into *HTTPStatusError.
func mapError(err error, url string) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, URL: url, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, URL: url, Body: body}
	}
	return fmt.Errorf("openai: request failed: %w", err)
}
