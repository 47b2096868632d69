// Package queue adapts Google Cloud Pub/Sub to the point-to-point queues the
// settlement bridge talks to: the oppdrag request queue, the kvittering reply
// queue and the avstemming queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Message attribute keys shared by publishers and consumers.
const (
	AttrReplyTo     = "reply-to"
	AttrFagsystemID = "fagsystem-id"
	AttrVedtakID    = "vedtak-id"
	AttrMessageType = "message-type"
)

// ErrNotConfigured is returned when a nil client is used.
var ErrNotConfigured = errors.New("platform/queue: client not configured")

// Client publishes to topics and hands out subscribers.
type Client struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[topicKey]*pubsub.Topic
}

type topicKey struct {
	name    string
	ordered bool
}

// New dials Pub/Sub for the given project. PUBSUB_EMULATOR_HOST is honoured by
// the underlying library.
func New(ctx context.Context, projectID string, opts ...option.ClientOption) (*Client, error) {
	if projectID == "" {
		return nil, errors.New("platform/queue: project id required")
	}
	c, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("platform/queue: new client: %w", err)
	}
	return NewFromClient(c), nil
}

// NewFromClient wraps an existing Pub/Sub client.
func NewFromClient(c *pubsub.Client) *Client {
	return &Client{client: c, topics: make(map[topicKey]*pubsub.Topic)}
}

func (c *Client) topic(name string, ordered bool) *pubsub.Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := topicKey{name: name, ordered: ordered}
	if t, ok := c.topics[key]; ok {
		return t
	}
	t := c.client.Topic(name)
	t.EnableMessageOrdering = ordered
	// One publish is one send; batching would hide which message failed.
	t.PublishSettings.CountThreshold = 1
	t.PublishSettings.DelayThreshold = time.Millisecond
	c.topics[key] = t
	return t
}

// Publish sends data to topic and blocks until the server acknowledges it or
// ctx expires. The publisher retries transient gRPC errors internally while
// it waits, so ctx is what bounds the attempt. A publish still in flight when
// ctx expires may land afterwards.
func (c *Client) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrNotConfigured
	}
	t := c.topic(topic, false)
	res := t.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("platform/queue: publish %s: %w", topic, err)
	}
	return id, nil
}

// PublishOrdered sends data with an ordering key so consumers observe
// messages sharing the key in publish order.
func (c *Client) PublishOrdered(ctx context.Context, topic, orderingKey string, data []byte, attrs map[string]string) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrNotConfigured
	}
	t := c.topic(topic, true)
	res := t.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs, OrderingKey: orderingKey})
	id, err := res.Get(ctx)
	if err != nil {
		// A failed ordered publish pauses the key until resumed.
		t.ResumePublish(orderingKey)
		return "", fmt.Errorf("platform/queue: publish %s key=%s: %w", topic, orderingKey, err)
	}
	return id, nil
}

// Close flushes topics and closes the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, t := range c.topics {
		t.Stop()
	}
	c.topics = make(map[topicKey]*pubsub.Topic)
	c.mu.Unlock()
	return c.client.Close()
}
