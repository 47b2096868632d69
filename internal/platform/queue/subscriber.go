package queue

import (
	"context"
	"errors"

	"cloud.google.com/go/pubsub"
)

// Envelope is one inbound message. Exactly one of Ack or Nack should be
// called; a nacked message is redelivered or dead-lettered by the
// subscription policy.
type Envelope struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	DeliveryAttempt int

	ack  func()
	nack func()
}

// NewEnvelope builds an envelope from raw parts, mostly for tests and replays.
func NewEnvelope(id string, data []byte, attrs map[string]string, ack, nack func()) *Envelope {
	return &Envelope{ID: id, Data: data, Attributes: attrs, ack: ack, nack: nack}
}

// Ack marks the message consumed.
func (e *Envelope) Ack() {
	if e != nil && e.ack != nil {
		e.ack()
	}
}

// Nack returns the message to the subscription.
func (e *Envelope) Nack() {
	if e != nil && e.nack != nil {
		e.nack()
	}
}

// ReceiveSettings bounds flow control on a subscriber.
type ReceiveSettings struct {
	MaxOutstandingMessages int
	NumGoroutines          int
}

// Subscriber consumes a single subscription.
type Subscriber struct {
	sub *pubsub.Subscription
}

// Subscriber returns a consumer for the named subscription.
func (c *Client) Subscriber(name string, settings ReceiveSettings) *Subscriber {
	if c == nil || c.client == nil {
		return &Subscriber{}
	}
	sub := c.client.Subscription(name)
	if settings.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = settings.MaxOutstandingMessages
	}
	if settings.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = settings.NumGoroutines
	}
	return &Subscriber{sub: sub}
}

// Receive blocks delivering messages to fn until ctx is done or the stream
// fails. Callers own reconnection.
func (s *Subscriber) Receive(ctx context.Context, fn func(context.Context, *Envelope)) error {
	if s == nil || s.sub == nil {
		return errors.New("platform/queue: subscriber not configured")
	}
	return s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		env := &Envelope{
			ID:         m.ID,
			Data:       m.Data,
			Attributes: m.Attributes,
			ack:        m.Ack,
			nack:       m.Nack,
		}
		if m.DeliveryAttempt != nil {
			env.DeliveryAttempt = *m.DeliveryAttempt
		}
		fn(ctx, env)
	})
}
