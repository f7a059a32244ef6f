// Package transcript persists per-persona message history on top of a plain
// key-value substrate.
//
// Every transcript lives inside a single JSON document stored under one key,
// shaped as {"<persona>": [{"role": "user"|"model", "parts": [{"text": "..."}]}]}.
// Saving always replaces a persona's whole history. Unreadable data degrades
// to an empty history instead of failing the caller.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"grimoire/internal/domain"
)

// DefaultKey is the storage key used by the original browser client.
const DefaultKey = "grimoire-chat-history"

const wireRoleModel = "model"

// Storage is the key-value substrate behind a Store.
type Storage interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type wirePart struct {
	Text string `json:"text"`
}

type wireMessage struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

// Store implements load/save/loadAll/clearAll over a Storage.
type Store struct {
	storage Storage
	key     string

	// mu serializes read-modify-write cycles of the shared document.
	mu sync.Mutex
}

// NewStore creates a Store writing under key (DefaultKey when blank).
func NewStore(storage Storage, key string) (*Store, error) {
	if storage == nil {
		return nil, errors.New("transcript: storage must not be nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultKey
	}
	return &Store{storage: storage, key: key}, nil
}

// Load returns the saved transcript for personaID, or an empty one when none
// exists or the stored document cannot be read.
func (s *Store) Load(ctx context.Context, personaID string) domain.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.readAll(ctx)
	if t, ok := all[personaID]; ok {
		return t
	}
	return domain.Transcript{}
}

// Save replaces the transcript for personaID. An empty transcript removes the
// persona's entry entirely.
func (s *Store) Save(ctx context.Context, personaID string, t domain.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read(ctx)
	if err != nil {
		return fmt.Errorf("transcript: save %q: %w", personaID, err)
	}
	if len(t) == 0 {
		delete(all, personaID)
	} else {
		all[personaID] = t.Clone()
	}
	if err := s.writeAll(ctx, all); err != nil {
		return fmt.Errorf("transcript: save %q: %w", personaID, err)
	}
	return nil
}

// LoadAll returns every persisted transcript keyed by persona.
func (s *Store) LoadAll(ctx context.Context) map[string]domain.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll(ctx)
}

// ClearAll deletes every persisted transcript.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("transcript: clear all: %w", err)
	}
	return nil
}

func (s *Store) readAll(ctx context.Context) map[string]domain.Transcript {
	all, err := s.read(ctx)
	if err != nil {
		log.Error().Err(err).Str("key", s.key).Msg("failed to read chat history")
		return map[string]domain.Transcript{}
	}
	return all
}

// read returns storage errors so writers never replace a document they could
// not see. An unparseable document reads as empty.
func (s *Store) read(ctx context.Context) (map[string]domain.Transcript, error) {
	raw, found, err := s.storage.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if !found || strings.TrimSpace(raw) == "" {
		return map[string]domain.Transcript{}, nil
	}
	all, err := decode(raw)
	if err != nil {
		log.Error().Err(err).Str("key", s.key).Msg("failed to parse chat history")
		return map[string]domain.Transcript{}, nil
	}
	return all, nil
}

func (s *Store) writeAll(ctx context.Context, all map[string]domain.Transcript) error {
	if len(all) == 0 {
		return s.storage.Delete(ctx, s.key)
	}
	raw, err := encode(all)
	if err != nil {
		return err
	}
	return s.storage.Set(ctx, s.key, raw)
}

func encode(all map[string]domain.Transcript) (string, error) {
	doc := make(map[string][]wireMessage, len(all))
	for persona, t := range all {
		msgs := make([]wireMessage, 0, len(t))
		for _, m := range t {
			msgs = append(msgs, wireMessage{
				Role:  toWireRole(m.Role),
				Parts: []wirePart{{Text: m.Text}},
			})
		}
		doc[persona] = msgs
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	return string(b), nil
}

func decode(raw string) (map[string]domain.Transcript, error) {
	var doc map[string][]wireMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	out := make(map[string]domain.Transcript, len(doc))
	for persona, msgs := range doc {
		t := make(domain.Transcript, 0, len(msgs))
		for i, m := range msgs {
			role, err := fromWireRole(m.Role)
			if err != nil {
				return nil, fmt.Errorf("decode history: %q message %d: %w", persona, i, err)
			}
			var text strings.Builder
			for _, p := range m.Parts {
				text.WriteString(p.Text)
			}
			t = append(t, domain.Message{Role: role, Text: text.String()})
		}
		out[persona] = t
	}
	return out, nil
}

func toWireRole(r domain.Role) string {
	if r == domain.RoleAssistant {
		return wireRoleModel
	}
	return string(domain.RoleUser)
}

func fromWireRole(r string) (domain.Role, error) {
	switch r {
	case string(domain.RoleUser):
		return domain.RoleUser, nil
	case wireRoleModel, string(domain.RoleAssistant):
		return domain.RoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown role %q", r)
	}
}
