package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// SubscriptionSpec describes a subscription the bridge expects to exist.
type SubscriptionSpec struct {
	Name                string
	Topic               string
	AckDeadline         time.Duration
	DeadLetterTopic     string
	MaxDeliveryAttempts int
	Ordered             bool
	// MinBackoff and MaxBackoff bound the redelivery delay after a nack.
	// Both zero leaves Pub/Sub redelivering immediately.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (s SubscriptionSpec) retryPolicy() *pubsub.RetryPolicy {
	if s.MinBackoff <= 0 && s.MaxBackoff <= 0 {
		return nil
	}
	rp := &pubsub.RetryPolicy{}
	if s.MinBackoff > 0 {
		rp.MinimumBackoff = s.MinBackoff
	}
	if s.MaxBackoff > 0 {
		rp.MaximumBackoff = s.MaxBackoff
	}
	return rp
}

// EnsureTopic creates the topic when missing.
func (c *Client) EnsureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	if c == nil || c.client == nil {
		return nil, ErrNotConfigured
	}
	if name == "" {
		return nil, errors.New("platform/queue: topic is required")
	}
	t := c.client.Topic(name)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("platform/queue: topic %q exists: %w", name, err)
	}
	if ok {
		return t, nil
	}
	t, err = c.client.CreateTopic(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("platform/queue: create topic %q: %w", name, err)
	}
	return t, nil
}

// EnsureSubscription creates the subscription (and its topics) when missing.
// An existing subscription only has its retry policy brought in line.
func (c *Client) EnsureSubscription(ctx context.Context, spec SubscriptionSpec) error {
	if c == nil || c.client == nil {
		return ErrNotConfigured
	}
	if spec.Name == "" {
		return errors.New("platform/queue: subscription name is required")
	}
	topic, err := c.EnsureTopic(ctx, spec.Topic)
	if err != nil {
		return err
	}
	sub := c.client.Subscription(spec.Name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("platform/queue: subscription %q exists: %w", spec.Name, err)
	}
	if exists {
		rp := spec.retryPolicy()
		if rp == nil {
			return nil
		}
		if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{RetryPolicy: rp}); err != nil {
			return fmt.Errorf("platform/queue: update subscription %q: %w", spec.Name, err)
		}
		return nil
	}

	cfg := pubsub.SubscriptionConfig{
		Topic:                 topic,
		AckDeadline:           spec.AckDeadline,
		EnableMessageOrdering: spec.Ordered,
		RetryPolicy:           spec.retryPolicy(),
	}
	if cfg.AckDeadline <= 0 {
		cfg.AckDeadline = 20 * time.Second
	}
	if spec.DeadLetterTopic != "" {
		dlq, err := c.EnsureTopic(ctx, spec.DeadLetterTopic)
		if err != nil {
			return err
		}
		cfg.DeadLetterPolicy = &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     dlq.String(),
			MaxDeliveryAttempts: spec.MaxDeliveryAttempts,
		}
	}
	if _, err := c.client.CreateSubscription(ctx, spec.Name, cfg); err != nil {
		return fmt.Errorf("platform/queue: create subscription %q: %w", spec.Name, err)
	}
	return nil
}
