package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"grimoire/internal/domain"
	"grimoire/internal/transcript"
	"grimoire/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Oracle is the slice of usecase.Service the handler needs.
type Oracle interface {
	Personas() []domain.Persona
	Transcript(ctx context.Context, persona string) (domain.Transcript, error)
	SubmitTurn(ctx context.Context, persona, text string) (usecase.TurnResult, error)
	Summaries(ctx context.Context) []transcript.Summary
	ClearHistory(ctx context.Context) error
	SearchInvocations(term string) []domain.Invocation
}

type Handler struct {
	oracle Oracle
}

func NewHandler(o Oracle) (*Handler, error) {
	if o == nil {
		return nil, errors.New("handler: oracle must not be nil")
	}
	return &Handler{oracle: o}, nil
}

type turnRequest struct {
	Message string `json:"message"`
}

type turnResponse struct {
	TurnID string `json:"turnId"`
	Status string `json:"status"`
	Reply  string `json:"reply"`
}

type personasResponse struct {
	Personas []domain.Persona `json:"personas"`
}

type transcriptResponse struct {
	Persona  string           `json:"persona"`
	Messages []domain.Message `json:"messages"`
}

type historyResponse struct {
	Consultations []transcript.Summary `json:"consultations"`
}

type invocationsResponse struct {
	Invocations []domain.Invocation `json:"invocations"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle routes an API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	logger := log.With().Str("correlation_id", corrID).Str("method", req.HTTPMethod).Str("path", req.Path).Logger()
	ctx = logger.WithContext(ctx)

	segments := pathSegments(req.Path)
	switch {
	case match(segments, "personas") && req.HTTPMethod == http.MethodGet:
		return respond(corrID, http.StatusOK, personasResponse{Personas: h.oracle.Personas()}), nil

	case len(segments) == 3 && segments[0] == "personas" && segments[2] == "transcript" && req.HTTPMethod == http.MethodGet:
		name := personaName(req, segments[1])
		t, err := h.oracle.Transcript(ctx, name)
		if err != nil {
			return errorResult(ctx, corrID, err), nil
		}
		return respond(corrID, http.StatusOK, transcriptResponse{Persona: name, Messages: t}), nil

	case len(segments) == 3 && segments[0] == "personas" && segments[2] == "turns" && req.HTTPMethod == http.MethodPost:
		return h.submitTurn(ctx, corrID, personaName(req, segments[1]), req.Body), nil

	case match(segments, "history") && req.HTTPMethod == http.MethodGet:
		sums := h.oracle.Summaries(ctx)
		if sums == nil {
			sums = []transcript.Summary{}
		}
		return respond(corrID, http.StatusOK, historyResponse{Consultations: sums}), nil

	case match(segments, "history") && req.HTTPMethod == http.MethodDelete:
		if err := h.oracle.ClearHistory(ctx); err != nil {
			return errorResult(ctx, corrID, err), nil
		}
		return respond(corrID, http.StatusNoContent, nil), nil

	case match(segments, "invocations") && req.HTTPMethod == http.MethodGet:
		found := h.oracle.SearchInvocations(req.QueryStringParameters["q"])
		if found == nil {
			found = []domain.Invocation{}
		}
		return respond(corrID, http.StatusOK, invocationsResponse{Invocations: found}), nil
	}

	return respond(corrID, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Reason: "no_route"}), nil
}

func (h *Handler) submitTurn(ctx context.Context, corrID, persona, body string) events.APIGatewayProxyResponse {
	var in turnRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return respond(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
	}

	res, err := h.oracle.SubmitTurn(ctx, persona, in.Message)
	if err != nil {
		return errorResult(ctx, corrID, err)
	}
	if rejected := res.RejectionError(); rejected != nil {
		return errorResult(ctx, corrID, rejected)
	}
	return respond(corrID, http.StatusOK, turnResponse{
		TurnID: res.TurnID,
		Status: string(res.Status),
		Reply:  res.Reply,
	})
}

func errorResult(ctx context.Context, corrID string, err error) events.APIGatewayProxyResponse {
	status, code, reason := mapError(err)
	logger := log.Ctx(ctx)
	if status >= 500 {
		logger.Error().Err(err).Str("code", code).Msg("request failed")
	} else {
		logger.Info().Str("code", code).Str("reason", reason).Msg("request rejected")
	}
	return respond(corrID, status, errorResponse{Error: code, Reason: reason})
}

func mapError(err error) (status int, code, reason string) {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal), "unexpected_error"
	}
	switch uerr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, string(uerr.Code), uerr.Reason
	case usecase.ErrorTurnInFlight:
		return http.StatusConflict, string(uerr.Code), uerr.Reason
	case usecase.ErrorUnknownPersona:
		return http.StatusNotFound, string(uerr.Code), uerr.Reason
	default:
		return http.StatusInternalServerError, string(usecase.ErrorInternal), uerr.Reason
	}
}

func respond(corrID string, status int, payload any) events.APIGatewayProxyResponse {
	headers := map[string]string{correlationHeader: corrID}
	if payload == nil {
		return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	headers["Content-Type"] = "application/json"
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(body)}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func pathSegments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func match(segments []string, want ...string) bool {
	if len(segments) != len(want) {
		return false
	}
	for i := range want {
		if segments[i] != want[i] {
			return false
		}
	}
	return true
}

// personaName prefers the API Gateway path parameter and falls back to the
// unescaped path segment.
func personaName(req events.APIGatewayProxyRequest, segment string) string {
	if name := req.PathParameters["name"]; name != "" {
		return name
	}
	if unescaped, err := url.PathUnescape(segment); err == nil {
		return unescaped
	}
	return segment
}
