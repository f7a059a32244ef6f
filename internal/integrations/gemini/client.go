// Package gemini streams replies from the Gemini API through
// google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"grimoire/internal/domain"
	"grimoire/internal/generation"
)

const (
	providerName = "gemini"
	DefaultModel = "gemini-2.5-flash"
)

// KeySource resolves the API key used for each request.
type KeySource interface {
	Token(ctx context.Context) (string, error)
}

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

func NewClient(keys KeySource, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("gemini: key source must not be nil")
	}
	c := &Client{model: DefaultModel, keys: keys}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OpenStream starts a fresh exchange seeded with history. Every call builds a
// new genai client so no remote chat state outlives the turn.
func (c *Client) OpenStream(ctx context.Context, instruction string, history []domain.Message) (generation.Fragments, error) {
	if err := generation.CheckHistory(history); err != nil {
		return nil, err
	}
	apiKey, err := c.keys.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve api key: %w", err)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  c.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	prior, input := generation.Split(generation.Compact(history))
	contents := append(toContents(prior), genai.NewContentFromText(input.Text, genai.RoleUser))
	var config *genai.GenerateContentConfig
	if strings.TrimSpace(instruction) != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		}
	}
	model := c.model

	return generation.Stream(providerName, func(emit func(string) bool) error {
		for chunk, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				return err
			}
			if chunk == nil {
				continue
			}
			if !emit(chunk.Text()) {
				return nil
			}
		}
		return nil
	}), nil
}

func toContents(history []domain.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Text, role))
	}
	return out
}
