package usecase

import "context"

type UpdateKind string

const (
	UpdateTurnStarted   UpdateKind = "turn_started"
	UpdateFragment      UpdateKind = "fragment"
	UpdateTurnCompleted UpdateKind = "turn_completed"
	UpdateTurnFailed    UpdateKind = "turn_failed"
)

// Update is a live view of a turn. For fragment updates Delta is the folded
// chunk and Text the in-progress reply after folding it; Sequence counts
// fragments from 1. For terminal updates Text is the final reply.
type Update struct {
	Kind     UpdateKind `json:"kind"`
	Persona  string     `json:"persona"`
	TurnID   string     `json:"turnId"`
	Delta    string     `json:"delta,omitempty"`
	Text     string     `json:"text,omitempty"`
	Sequence int        `json:"sequence,omitempty"`
}

// Observer is called synchronously by the session. A fragment update is
// delivered before the next fragment is read from the stream.
type Observer interface {
	Observe(ctx context.Context, u Update)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, u Update)

func (f ObserverFunc) Observe(ctx context.Context, u Update) {
	f(ctx, u)
}
