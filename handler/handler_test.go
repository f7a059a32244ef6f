package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"grimoire/internal/domain"
	"grimoire/internal/transcript"
	"grimoire/internal/usecase"
)

type stubOracle struct {
	personas    []domain.Persona
	transcript  domain.Transcript
	result      usecase.TurnResult
	err         error
	summaries   []transcript.Summary
	invocations []domain.Invocation

	gotPersona string
	gotText    string
	gotTerm    string
	cleared    bool
}

func (s *stubOracle) Personas() []domain.Persona { return s.personas }

func (s *stubOracle) Transcript(_ context.Context, persona string) (domain.Transcript, error) {
	s.gotPersona = persona
	return s.transcript, s.err
}

func (s *stubOracle) SubmitTurn(_ context.Context, persona, text string) (usecase.TurnResult, error) {
	s.gotPersona = persona
	s.gotText = text
	return s.result, s.err
}

func (s *stubOracle) Summaries(context.Context) []transcript.Summary { return s.summaries }

func (s *stubOracle) ClearHistory(context.Context) error {
	s.cleared = true
	return s.err
}

func (s *stubOracle) SearchInvocations(term string) []domain.Invocation {
	s.gotTerm = term
	return s.invocations
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, o *stubOracle) *Handler {
	t.Helper()
	h, err := NewHandler(o)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_Personas(t *testing.T) {
	o := &stubOracle{personas: []domain.Persona{{Name: "Azrael, The Ancient", Instruction: "secret"}}}
	resp, err := newTestHandler(t, o).Handle(context.Background(), makeEvent(http.MethodGet, "/personas", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, resp.Body, "secret")

	out := parseBody[personasResponse](t, resp.Body)
	require.Len(t, out.Personas, 1)
	require.Equal(t, "Azrael, The Ancient", out.Personas[0].Name)
}

func TestHandle_SubmitTurn(t *testing.T) {
	o := &stubOracle{result: usecase.TurnResult{Status: usecase.TurnCompleted, TurnID: "turn-1", Reply: "Hello there."}}
	h := newTestHandler(t, o)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/personas/Azrael%2C%20The%20Ancient/turns", `{"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Azrael, The Ancient", o.gotPersona)
	require.Equal(t, "hi", o.gotText)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	out := parseBody[turnResponse](t, resp.Body)
	require.Equal(t, turnResponse{TurnID: "turn-1", Status: "completed", Reply: "Hello there."}, out)
}

func TestHandle_PathParameterWins(t *testing.T) {
	o := &stubOracle{result: usecase.TurnResult{Status: usecase.TurnCompleted}}
	ev := makeEvent(http.MethodPost, "/personas/ignored/turns", `{"message":"hi"}`)
	ev.PathParameters = map[string]string{"name": "Lilith, The Seductress"}

	_, err := newTestHandler(t, o).Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, "Lilith, The Seductress", o.gotPersona)
}

func TestHandle_FailedTurnReturnsApology(t *testing.T) {
	o := &stubOracle{result: usecase.TurnResult{Status: usecase.TurnFailed, TurnID: "t", Reply: usecase.Apology, Err: errors.New("boom")}}
	resp, err := newTestHandler(t, o).Handle(context.Background(), makeEvent(http.MethodPost, "/personas/x/turns", `{"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[turnResponse](t, resp.Body)
	require.Equal(t, "failed", out.Status)
	require.Equal(t, usecase.Apology, out.Reply)
}

func TestHandle_InvalidBody(t *testing.T) {
	o := &stubOracle{}
	resp, err := newTestHandler(t, o).Handle(context.Background(), makeEvent(http.MethodPost, "/personas/x/turns", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, o.gotText)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
}

func TestHandle_RejectedTurns(t *testing.T) {
	cases := []struct {
		name   string
		reason string
		status int
		code   usecase.ErrorCode
	}{
		{name: "empty", reason: usecase.ReasonEmptyMessage, status: http.StatusBadRequest, code: usecase.ErrorInvalidInput},
		{name: "in flight", reason: usecase.ReasonTurnInFlight, status: http.StatusConflict, code: usecase.ErrorTurnInFlight},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &stubOracle{result: usecase.TurnResult{Status: usecase.TurnRejected, Reason: tc.reason}}
			resp, err := newTestHandler(t, o).Handle(context.Background(), makeEvent(http.MethodPost, "/personas/x/turns", `{"message":""}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, string(tc.code), out.Error)
			require.Equal(t, tc.reason, out.Reason)
		})
	}
}

func TestHandle_MapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   usecase.ErrorCode
	}{
		{name: "unknown persona", err: &usecase.Error{Code: usecase.ErrorUnknownPersona, Reason: "unknown_persona"}, status: http.StatusNotFound, code: usecase.ErrorUnknownPersona},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "history_clear_error"}, status: http.StatusInternalServerError, code: usecase.ErrorInternal},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: usecase.ErrorInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &stubOracle{err: tc.err}
			resp, err := newTestHandler(t, o).Handle(context.Background(), makeEvent(http.MethodGet, "/personas/x/transcript", ""))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, string(tc.code), out.Error)
		})
	}
}

func TestHandle_Transcript(t *testing.T) {
	o := &stubOracle{transcript: domain.Transcript{domain.UserMessage("q"), domain.AssistantMessage("a")}}
	resp, err := newTestHandler(t, o).Handle(context.Background(), makeEvent(http.MethodGet, "/personas/Azrael/transcript", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[transcriptResponse](t, resp.Body)
	require.Equal(t, "Azrael", out.Persona)
	require.Equal(t, o.transcript, domain.Transcript(out.Messages))
}

func TestHandle_History(t *testing.T) {
	o := &stubOracle{}
	h := newTestHandler(t, o)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/history", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"consultations":[]}`, resp.Body)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodDelete, "/history", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, resp.Body)
	require.True(t, o.cleared)
}

func TestHandle_Invocations(t *testing.T) {
	o := &stubOracle{invocations: []domain.Invocation{{Title: "EXORCISM OF AIR", Text: "..."}}}
	ev := makeEvent(http.MethodGet, "/invocations", "")
	ev.QueryStringParameters = map[string]string{"q": "air"}

	resp, err := newTestHandler(t, o).Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "air", o.gotTerm)

	out := parseBody[invocationsResponse](t, resp.Body)
	require.Len(t, out.Invocations, 1)
}

func TestHandle_UnknownRoute(t *testing.T) {
	resp, err := newTestHandler(t, &stubOracle{}).Handle(context.Background(), makeEvent(http.MethodPut, "/personas", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_EchoesCorrelationID(t *testing.T) {
	ev := makeEvent(http.MethodGet, "/personas", "")
	ev.Headers["x-correlation-id"] = "corr-123"

	resp, err := newTestHandler(t, &stubOracle{}).Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
