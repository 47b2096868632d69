package queue

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	ps, err := pubsub.NewClient(context.Background(), "settlement-test", option.WithGRPCConn(conn))
	require.NoError(t, err)

	c := NewFromClient(ps)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEnsureTopicIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first, err := c.EnsureTopic(ctx, "oppdrag-request")
	require.NoError(t, err)
	second, err := c.EnsureTopic(ctx, "oppdrag-request")
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
}

func TestPublishDeliversDataAndAttributes(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureSubscription(ctx, SubscriptionSpec{
		Name:  "kvittering-sub",
		Topic: "kvittering",
	}))

	id, err := c.Publish(ctx, "kvittering", []byte("<oppdrag/>"), map[string]string{AttrReplyTo: "reply"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	receiveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var got *Envelope
	err = c.Subscriber("kvittering-sub", ReceiveSettings{MaxOutstandingMessages: 1}).Receive(receiveCtx, func(_ context.Context, env *Envelope) {
		got = env
		env.Ack()
		cancel()
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, []byte("<oppdrag/>"), got.Data)
	assert.Equal(t, "reply", got.Attributes[AttrReplyTo])
}

func TestPublishOrderedKeepsSequence(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureSubscription(ctx, SubscriptionSpec{
		Name:    "avstemming-sub",
		Topic:   "avstemming",
		Ordered: true,
	}))

	for _, body := range []string{"START", "DATA", "AVSL"} {
		_, err := c.PublishOrdered(ctx, "avstemming", "run-1", []byte(body), nil)
		require.NoError(t, err)
	}

	receiveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var seen []string
	err := c.Subscriber("avstemming-sub", ReceiveSettings{}).Receive(receiveCtx, func(_ context.Context, env *Envelope) {
		seen = append(seen, string(env.Data))
		env.Ack()
		if len(seen) == 3 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"START", "DATA", "AVSL"}, seen)
}

func TestEnsureSubscriptionAppliesRetryAndDeadLetterPolicy(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureSubscription(ctx, SubscriptionSpec{
		Name:                "kvittering-sub",
		Topic:               "kvittering",
		DeadLetterTopic:     "kvittering-dlq",
		MaxDeliveryAttempts: 10,
		MinBackoff:          10 * time.Second,
		MaxBackoff:          10 * time.Minute,
	}))

	cfg, err := c.client.Subscription("kvittering-sub").Config(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg.RetryPolicy)
	assert.Equal(t, 10*time.Second, cfg.RetryPolicy.MinimumBackoff)
	assert.Equal(t, 10*time.Minute, cfg.RetryPolicy.MaximumBackoff)
	require.NotNil(t, cfg.DeadLetterPolicy)
	assert.Equal(t, "projects/settlement-test/topics/kvittering-dlq", cfg.DeadLetterPolicy.DeadLetterTopic)
	assert.Equal(t, 10, cfg.DeadLetterPolicy.MaxDeliveryAttempts)
}

func TestEnsureSubscriptionUpdatesRetryPolicyOfExisting(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureSubscription(ctx, SubscriptionSpec{Name: "kvittering-sub", Topic: "kvittering"}))
	cfg, err := c.client.Subscription("kvittering-sub").Config(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg.RetryPolicy)

	require.NoError(t, c.EnsureSubscription(ctx, SubscriptionSpec{
		Name:       "kvittering-sub",
		Topic:      "kvittering",
		MinBackoff: 15 * time.Second,
		MaxBackoff: 5 * time.Minute,
	}))
	cfg, err = c.client.Subscription("kvittering-sub").Config(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg.RetryPolicy)
	assert.Equal(t, 15*time.Second, cfg.RetryPolicy.MinimumBackoff)
	assert.Equal(t, 5*time.Minute, cfg.RetryPolicy.MaximumBackoff)
}

func TestNilClientIsNotConfigured(t *testing.T) {
	var c *Client
	_, err := c.Publish(context.Background(), "t", nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEnvelopeAckNack(t *testing.T) {
	var acked, nacked int
	env := NewEnvelope("1", nil, nil, func() { acked++ }, func() { nacked++ })
	env.Ack()
	env.Nack()
	assert.Equal(t, 1, acked)
	assert.Equal(t, 1, nacked)
}
