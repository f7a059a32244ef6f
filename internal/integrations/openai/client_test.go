package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimoire/internal/domain"
	"grimoire/internal/generation"
)

// ---------------------------------------------------------------------------
// apiBaseURL helper
// ---------------------------------------------------------------------------

func TestAPIBaseURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1"},
		{"http://localhost:8080", "http://localhost:8080/v1"},
		{"", "https://api.openai.com/v1"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, apiBaseURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

type fakeKeys struct {
	token string
	err   error
	calls int
}

func (f *fakeKeys) Token(context.Context) (string, error) {
	f.calls++
	return f.token, f.err
}

func TestNewClient_NilKeySource(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(&fakeKeys{token: "sk"})
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.Equal(t, DefaultModel, c.model)

	c, err = NewClient(&fakeKeys{token: "sk"}, WithModel("  "), WithModel("gpt-mock"))
	require.NoError(t, err)
	require.Equal(t, "gpt-mock", c.model)
}

// ---------------------------------------------------------------------------
// Client.OpenStream
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeKeys{token: "sk-test"},
		WithBaseURL(srv.URL),
		WithModel("gpt-mock"),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func sseChunk(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-mock","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n\n", content)
}

func drain(f generation.Fragments) ([]string, error) {
	var out []string
	for fragment, err := range f {
		if err != nil {
			return out, err
		}
		out = append(out, fragment)
	}
	return out, nil
}

func TestClient_OpenStream_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(reqBody), `"stream":true`)
		require.Contains(t, string(reqBody), `"role":"system"`)
		require.Contains(t, string(reqBody), `"content":"Speak as Azrael."`)
		require.Contains(t, string(reqBody), `"content":"Behold."`)
		require.Contains(t, string(reqBody), `"content":"And the dead?"`)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(sseChunk("The dead ")))
		_, _ = w.Write([]byte(sseChunk("")))
		_, _ = w.Write([]byte(sseChunk("remember.")))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	f, err := c.OpenStream(context.Background(), "Speak as Azrael.", []domain.Message{
		domain.UserMessage("Who are you?"),
		domain.AssistantMessage("Behold."),
		domain.UserMessage("And the dead?"),
	})
	require.NoError(t, err)

	got, err := drain(f)
	require.NoError(t, err)
	require.Equal(t, []string{"The dead ", "remember."}, got)
}

func TestClient_OpenStream_InvalidHistory(t *testing.T) {
	keys := &fakeKeys{token: "sk"}
	c, err := NewClient(keys)
	require.NoError(t, err)

	_, err = c.OpenStream(context.Background(), "", []domain.Message{domain.AssistantMessage("hi")})
	var verr *generation.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 0, keys.calls, "validation must happen before any key lookup")
}

func TestClient_OpenStream_KeyError(t *testing.T) {
	c, err := NewClient(&fakeKeys{err: errors.New("ssm unavailable")})
	require.NoError(t, err)
	_, err = c.OpenStream(context.Background(), "", []domain.Message{domain.UserMessage("hi")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

func TestClient_OpenStream_StatusErrors(t *testing.T) {
	for _, status := range []int{400, 429, 500} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":{"message":"upstream said no","type":"server_error"}}`))
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			f, err := c.OpenStream(context.Background(), "", []domain.Message{domain.UserMessage("hi")})
			require.NoError(t, err)

			_, err = drain(f)
			var failure *generation.Failure
			require.ErrorAs(t, err, &failure)
			require.Equal(t, "openai", failure.Provider)

			var statusErr *HTTPStatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, status, statusErr.HTTPStatusCode())
			require.Contains(t, err.Error(), fmt.Sprint(status))
		})
	}
}

func TestClient_OpenStream_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		_, _ = w.Write([]byte(`bad gateway`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	f, err := c.OpenStream(context.Background(), "", []domain.Message{domain.UserMessage("hi")})
	require.NoError(t, err)

	_, err = drain(f)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 502, statusErr.StatusCode)
}

func TestClient_OpenStream_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeKeys{token: "sk-test"},
		WithBaseURL("http://127.0.0.1:1"),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}),
	)
	require.NoError(t, err)

	f, err := c.OpenStream(context.Background(), "", []domain.Message{domain.UserMessage("hi")})
	require.NoError(t, err)
	_, err = drain(f)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_OpenStream_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	f, err := c.OpenStream(context.Background(), "", []domain.Message{domain.UserMessage("hi")})
	require.NoError(t, err)
	_, err = drain(f)
	require.Error(t, err)
}

func TestToChatMessages_NoInstruction(t *testing.T) {
	msgs := toChatMessages(" ", []domain.Message{domain.UserMessage("hi")})
	require.Len(t, msgs, 1)
	require.Equal(t, "user", msgs[0].Role)
}
