// Package generation defines the streaming contract shared by the remote
// text-generation providers.
//
// A provider turns an instruction and a linear history, whose last message is
// the user's newest input, into Fragments: a lazy, single-pass sequence of
// non-empty reply chunks in emission order. Exhaustion means the reply is
// complete. A yielded error is a *Failure and ends the sequence; fragments
// already emitted are not retracted.
package generation

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"grimoire/internal/domain"
)

// Fragments is the reply stream returned by a provider.
type Fragments = iter.Seq2[string, error]

// ErrStreamConsumed is yielded when Fragments is ranged over a second time.
var ErrStreamConsumed = errors.New("generation: stream already consumed")

// ValidationError reports a caller-side precondition violation. It is returned
// before any remote call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "generation: invalid history: " + e.Reason
}

// Failure wraps a network, remote or protocol error raised while producing a
// reply.
type Failure struct {
	Provider string
	Err      error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("generation: %s: %v", e.Provider, e.Err)
}

func (e *Failure) Unwrap() error {
	return e.Err
}

// CheckHistory verifies that history is non-empty and ends with a user message.
func CheckHistory(history []domain.Message) error {
	if len(history) == 0 {
		return &ValidationError{Reason: "history is empty"}
	}
	if last := history[len(history)-1]; last.Role != domain.RoleUser {
		return &ValidationError{Reason: fmt.Sprintf("last message has role %q, want %q", last.Role, domain.RoleUser)}
	}
	return nil
}

// Split separates the prior turns from the triggering user message. The
// history must already have passed CheckHistory.
func Split(history []domain.Message) (prior []domain.Message, input domain.Message) {
	n := len(history)
	return history[:n-1], history[n-1]
}

// Compact drops assistant messages with blank text and merges adjacent
// messages of the same role, joining their text with a blank line. Providers
// reject empty content blocks, and a persisted empty reply would otherwise
// leave two user messages side by side.
func Compact(history []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(history))
	for _, m := range history {
		if m.Role == domain.RoleAssistant && strings.TrimSpace(m.Text) == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Text += "\n\n" + m.Text
			continue
		}
		out = append(out, m)
	}
	return out
}

// Stream adapts a push-style producer into Fragments. The producer calls emit
// for every chunk and must return as soon as emit reports false. Empty chunks
// are dropped and a producer error is yielded as a *Failure.
func Stream(provider string, produce func(emit func(string) bool) error) Fragments {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}
		stopped := false
		err := produce(func(fragment string) bool {
			if fragment == "" {
				return true
			}
			if !yield(fragment, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield("", &Failure{Provider: provider, Err: err})
		}
	}
}
