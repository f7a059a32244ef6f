package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"grimoire/internal/domain"
	"grimoire/internal/transcript"
)

type Catalog interface {
	Personas() []domain.Persona
	Persona(name string) (domain.Persona, bool)
	SearchInvocations(term string) []domain.Invocation
}

type HistoryStore interface {
	TranscriptStore
	LoadAll(ctx context.Context) map[string]domain.Transcript
	ClearAll(ctx context.Context) error
}

type Options struct {
	// MaxContextItems bounds the messages sent to the generator per turn.
	// Zero sends the whole transcript.
	MaxContextItems int
	// MaxMessageLength rejects longer user messages (in runes). Zero disables.
	MaxMessageLength int
	Observers        []Observer
}

// Service is the persona-level entry point shared by the Lambda handler and
// the CLI.
type Service struct {
	catalog Catalog
	store   HistoryStore
	gen     Generator
	opts    Options

	mu   sync.Mutex
	live map[string]*Session
}

func NewService(c Catalog, store HistoryStore, gen Generator, opts Options) (*Service, error) {
	if c == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: transcript store must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if opts.MaxContextItems < 0 {
		opts.MaxContextItems = 0
	}
	if opts.MaxMessageLength < 0 {
		opts.MaxMessageLength = 0
	}
	return &Service{
		catalog: c,
		store:   store,
		gen:     gen,
		opts:    opts,
		live:    make(map[string]*Session),
	}, nil
}

func (s *Service) Personas() []domain.Persona {
	return s.catalog.Personas()
}

func (s *Service) persona(name string) (domain.Persona, error) {
	p, ok := s.catalog.Persona(name)
	if !ok {
		return domain.Persona{}, newError(ErrorUnknownPersona, "unknown_persona", nil)
	}
	return p, nil
}

// Open starts a session for the named persona with its persisted transcript.
// Extra observers are added to the service-wide ones.
func (s *Service) Open(ctx context.Context, name string, observers ...Observer) (*Session, error) {
	p, err := s.persona(name)
	if err != nil {
		return nil, err
	}
	all := make([]Observer, 0, len(s.opts.Observers)+len(observers))
	all = append(all, s.opts.Observers...)
	all = append(all, observers...)

	sess := &Session{
		persona:          p,
		gen:              s.gen,
		store:            s.store,
		observers:        all,
		maxContextItems:  s.opts.MaxContextItems,
		maxMessageLength: s.opts.MaxMessageLength,
		transcript:       s.store.Load(ctx, p.Name),
	}
	log.Debug().Str("persona", p.Name).Int("messages", len(sess.transcript)).Msg("session opened")
	return sess, nil
}

// Session returns the persona's in-flight session if one exists in this
// process, otherwise a freshly opened one. Reusing the pending session lets
// concurrent callers observe the at-most-one-turn rule.
func (s *Service) Session(ctx context.Context, name string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked(ctx, name)
}

// sessionLocked must be called with s.mu held.
func (s *Service) sessionLocked(ctx context.Context, name string) (*Session, error) {
	p, err := s.persona(name)
	if err != nil {
		return nil, err
	}
	if sess, ok := s.live[p.Name]; ok && sess.Pending() {
		return sess, nil
	}
	sess, err := s.Open(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	s.live[p.Name] = sess
	return sess, nil
}

// SubmitTurn runs one turn against the persona's current session. The turn
// is reserved before the service lock is released, so a concurrent submit
// for the same persona is rejected as in flight.
func (s *Service) SubmitTurn(ctx context.Context, name, text string) (TurnResult, error) {
	s.mu.Lock()
	sess, err := s.sessionLocked(ctx, name)
	if err != nil {
		s.mu.Unlock()
		return TurnResult{}, err
	}
	snapshot, rejected, ok := sess.begin(text)
	s.mu.Unlock()
	if !ok {
		return rejected, nil
	}
	return sess.run(ctx, snapshot), nil
}

func (s *Service) Transcript(ctx context.Context, name string) (domain.Transcript, error) {
	p, err := s.persona(name)
	if err != nil {
		return nil, err
	}
	return s.store.Load(ctx, p.Name), nil
}

// Summaries lists one entry per persona with a saved consultation.
func (s *Service) Summaries(ctx context.Context) []transcript.Summary {
	return transcript.Summarize(s.store.LoadAll(ctx), s.catalog.Personas())
}

// ClearHistory erases every persisted transcript.
func (s *Service) ClearHistory(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return newError(ErrorInternal, "history_clear_error", err)
	}
	s.mu.Lock()
	for name, sess := range s.live {
		if !sess.Pending() {
			delete(s.live, name)
		}
	}
	s.mu.Unlock()
	log.Info().Msg("history cleared")
	return nil
}

func (s *Service) SearchInvocations(term string) []domain.Invocation {
	return s.catalog.SearchInvocations(strings.TrimSpace(term))
}
