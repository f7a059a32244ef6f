package usecase

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"grimoire/internal/domain"
	"grimoire/internal/generation"
)

// Apology replaces the assistant reply of any turn whose generation failed.
const Apology = "The ether is disturbed. I cannot answer at this moment."

// Generator opens a reply stream for a history ending in a user message.
type Generator interface {
	OpenStream(ctx context.Context, instruction string, history []domain.Message) (generation.Fragments, error)
}

// TranscriptStore loads and replaces per-persona transcripts.
type TranscriptStore interface {
	Load(ctx context.Context, personaID string) domain.Transcript
	Save(ctx context.Context, personaID string, t domain.Transcript) error
}

// TurnStatus is the outcome of SubmitTurn.
type TurnStatus string

const (
	TurnRejected  TurnStatus = "rejected"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
)

// Rejection reasons reported in TurnResult.Reason.
const (
	ReasonEmptyMessage   = "empty_message"
	ReasonTurnInFlight   = "turn_in_flight"
	ReasonMessageTooLong = "message_too_long"
)

// TurnResult describes how SubmitTurn ended. Err carries the raw generation
// error of a failed turn for diagnostics; Reply never contains it.
type TurnResult struct {
	Status TurnStatus
	Reason string
	TurnID string
	Reply  string
	Err    error
}

// Session drives the turns of one persona. At most one turn is in flight at
// a time; a submission made while one is pending is rejected, not queued.
type Session struct {
	persona          domain.Persona
	gen              Generator
	store            TranscriptStore
	observers        []Observer
	maxContextItems  int
	maxMessageLength int

	mu         sync.Mutex
	transcript domain.Transcript
	pending    bool
}

// Persona returns the persona this session speaks as.
func (s *Session) Persona() domain.Persona {
	return s.persona
}

// Transcript returns a copy of the current transcript, including the
// in-progress reply while a turn is streaming.
func (s *Session) Transcript() domain.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Clone()
}

// Pending reports whether a turn is in flight.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// SubmitTurn appends userText, streams the reply into the transcript and
// persists the result. It returns once the transcript has been saved.
func (s *Session) SubmitTurn(ctx context.Context, userText string) TurnResult {
	snapshot, rejected, ok := s.begin(userText)
	if !ok {
		return rejected
	}
	return s.run(ctx, snapshot)
}

// begin validates userText and, when accepted, appends it and marks the turn
// pending. It returns a snapshot of the transcript for the generator.
func (s *Session) begin(userText string) (domain.Transcript, TurnResult, bool) {
	trimmed := strings.TrimSpace(userText)

	s.mu.Lock()
	defer s.mu.Unlock()
	if reason := s.rejectReason(trimmed); reason != "" {
		log.Debug().Str("persona", s.persona.Name).Str("reason", reason).Msg("turn rejected")
		return nil, TurnResult{Status: TurnRejected, Reason: reason}, false
	}
	s.transcript = append(s.transcript, domain.UserMessage(userText))
	s.pending = true
	return s.transcript.Clone(), TurnResult{}, true
}

// run streams the reply of a turn reserved by begin.
func (s *Session) run(ctx context.Context, snapshot domain.Transcript) TurnResult {
	turnID := newUUID()
	logger := log.With().Str("persona", s.persona.Name).Str("turn_id", turnID).Logger()
	s.notify(ctx, Update{Kind: UpdateTurnStarted, Persona: s.persona.Name, TurnID: turnID})

	fragments, failure := s.gen.OpenStream(ctx, s.persona.Instruction, window(snapshot, s.maxContextItems))

	s.mu.Lock()
	s.transcript = append(s.transcript, domain.AssistantMessage(""))
	s.mu.Unlock()

	if failure == nil {
		seq := 0
		for fragment, err := range fragments {
			if err != nil {
				failure = err
				break
			}
			s.mu.Lock()
			tail := &s.transcript[len(s.transcript)-1]
			tail.Text += fragment
			text := tail.Text
			s.mu.Unlock()

			seq++
			s.notify(ctx, Update{
				Kind:     UpdateFragment,
				Persona:  s.persona.Name,
				TurnID:   turnID,
				Delta:    fragment,
				Text:     text,
				Sequence: seq,
			})
		}
	}

	s.mu.Lock()
	tail := &s.transcript[len(s.transcript)-1]
	if failure != nil {
		tail.Text = Apology
	}
	reply := tail.Text
	final := s.transcript.Clone()
	s.mu.Unlock()

	result := TurnResult{Status: TurnCompleted, TurnID: turnID, Reply: reply}
	kind := UpdateTurnCompleted
	if failure != nil {
		logger.Error().Err(failure).Msg("generation failed")
		result.Status = TurnFailed
		result.Err = failure
		kind = UpdateTurnFailed
	}

	// The turn is durable even if the caller has gone away.
	if err := s.store.Save(context.WithoutCancel(ctx), s.persona.Name, final); err != nil {
		logger.Error().Err(err).Msg("save transcript")
	}

	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()

	s.notify(ctx, Update{Kind: kind, Persona: s.persona.Name, TurnID: turnID, Text: reply})
	logger.Info().Str("status", string(result.Status)).Int("reply_len", len(reply)).Msg("turn finished")
	return result
}

// rejectReason must be called with s.mu held.
func (s *Session) rejectReason(trimmed string) string {
	switch {
	case trimmed == "":
		return ReasonEmptyMessage
	case s.pending:
		return ReasonTurnInFlight
	case s.maxMessageLength > 0 && utf8.RuneCountInString(trimmed) > s.maxMessageLength:
		return ReasonMessageTooLong
	}
	return ""
}

func (s *Session) notify(ctx context.Context, u Update) {
	for _, o := range s.observers {
		o.Observe(ctx, u)
	}
}

// window returns the newest maxItems messages of history, trimmed further so
// that it starts with a user message. maxItems <= 0 means no limit.
func window(history domain.Transcript, maxItems int) []domain.Message {
	if maxItems <= 0 || len(history) <= maxItems {
		return history
	}
	w := history[len(history)-maxItems:]
	for len(w) > 1 && w[0].Role != domain.RoleUser {
		w = w[1:]
	}
	return w
}

var newUUID = func() string {
	return uuid.NewString()
}
