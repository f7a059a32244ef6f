// Package events carries turn updates over watermill so presentation layers
// can render a streaming reply without touching the session directly.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"grimoire/internal/usecase"
)

const Topic = "oracle.turns"

const (
	metadataSequence = "sequence_number"
	metadataKind     = "kind"
	metadataPersona  = "persona"
)

// Publisher is a usecase.Observer that forwards every update as a JSON
// message. Messages are numbered in the order Observe is called.
type Publisher struct {
	pub   message.Publisher
	topic string

	mu  sync.Mutex
	seq uint64
}

func NewPublisher(pub message.Publisher, topic string) (*Publisher, error) {
	if pub == nil {
		return nil, errors.New("events: publisher must not be nil")
	}
	if topic == "" {
		topic = Topic
	}
	return &Publisher{pub: pub, topic: topic}, nil
}

// Observe publishes u. Publish failures are logged; they never fail a turn.
func (p *Publisher) Observe(ctx context.Context, u usecase.Update) {
	if err := p.publish(ctx, u); err != nil {
		log.Warn().Err(err).Str("kind", string(u.Kind)).Msg("failed to publish turn update")
	}
}

func (p *Publisher) publish(ctx context.Context, u usecase.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("events: marshal update: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.SetContext(ctx)
	msg.Metadata.Set(metadataSequence, strconv.FormatUint(p.seq, 10))
	msg.Metadata.Set(metadataKind, string(u.Kind))
	msg.Metadata.Set(metadataPersona, u.Persona)
	p.seq++

	if err := p.pub.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

// Decode reads an update published by Publisher.
func Decode(msg *message.Message) (usecase.Update, error) {
	var u usecase.Update
	if err := json.Unmarshal(msg.Payload, &u); err != nil {
		return usecase.Update{}, fmt.Errorf("events: decode update: %w", err)
	}
	return u, nil
}

// SequenceNumber returns the publisher-assigned number of msg.
func SequenceNumber(msg *message.Message) (uint64, error) {
	return strconv.ParseUint(msg.Metadata.Get(metadataSequence), 10, 64)
}

// NewGoChannel returns an in-process pub/sub in which Publish blocks until the
// subscriber acks, so updates are handled strictly one at a time.
func NewGoChannel(logger zerolog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger(logger))
}

// Consume subscribes to topic and calls handle for every update until ctx is
// done or the subscription closes. A handle error stops consumption.
func Consume(ctx context.Context, sub message.Subscriber, topic string, handle func(usecase.Update) error) error {
	if topic == "" {
		topic = Topic
	}
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("events: subscribe %q: %w", topic, err)
	}
	return Drain(ctx, msgs, handle)
}

// Drain handles messages from an existing subscription. Every message is
// acked after handle returns.
func Drain(ctx context.Context, msgs <-chan *message.Message, handle func(usecase.Update) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			u, err := Decode(msg)
			if err == nil {
				err = handle(u)
			}
			msg.Ack()
			if err != nil {
				return err
			}
		}
	}
}
