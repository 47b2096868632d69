package oppdrag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag/wire"
	"github.com/odyssey-erp/settlement-bridge/internal/platform/queue"
)

type ackRecorder struct {
	mu     sync.Mutex
	acked  int
	nacked int
}

func (r *ackRecorder) envelope(data []byte) *queue.Envelope {
	return queue.NewEnvelope("m-1", data,
		nil,
		func() { r.mu.Lock(); r.acked++; r.mu.Unlock() },
		func() { r.mu.Lock(); r.nacked++; r.mu.Unlock() },
	)
}

type stubApplier struct {
	outcome ReceiptOutcome
	err     error
	calls   int
}

func (s *stubApplier) ApplyReceipt(context.Context, wire.Oppdrag) (ReceiptOutcome, error) {
	s.calls++
	return s.outcome, s.err
}

func encodedKvittering(t *testing.T, severity string) []byte {
	t.Helper()
	body, err := wire.MarshalOppdrag(kvittering("case-1", "vedtak-1", severity))
	require.NoError(t, err)
	return body
}

func TestListenerHandleAckPolicy(t *testing.T) {
	tests := []struct {
		name      string
		outcome   ReceiptOutcome
		err       error
		wantAck   int
		wantNack  int
		wantCalls int
	}{
		{name: "applied", outcome: ReceiptApplied, wantAck: 1, wantCalls: 1},
		{name: "duplicate", outcome: ReceiptDuplicate, wantAck: 1, wantCalls: 1},
		{name: "not sent yet", outcome: ReceiptNotSent, wantNack: 1, wantCalls: 1},
		{name: "unknown", outcome: ReceiptUnknown, wantNack: 1, wantCalls: 1},
		{name: "store error", err: errors.New("db down"), wantNack: 1, wantCalls: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			applier := &stubApplier{outcome: tc.outcome, err: tc.err}
			l := NewListener(nil, applier, nil)
			rec := &ackRecorder{}

			l.Handle(context.Background(), rec.envelope(encodedKvittering(t, "00")))

			assert.Equal(t, tc.wantAck, rec.acked)
			assert.Equal(t, tc.wantNack, rec.nacked)
			assert.Equal(t, tc.wantCalls, applier.calls)
		})
	}
}

func TestListenerNacksUnparseable(t *testing.T) {
	applier := &stubApplier{outcome: ReceiptApplied}
	l := NewListener(nil, applier, nil)
	rec := &ackRecorder{}

	l.Handle(context.Background(), rec.envelope([]byte("<oppdrag><broken")))

	assert.Zero(t, rec.acked)
	assert.Equal(t, 1, rec.nacked)
	assert.Zero(t, applier.calls)
}

type flakyReceiver struct {
	failures int
	calls    int
	deliver  []byte
	cancel   context.CancelFunc
}

func (f *flakyReceiver) Receive(ctx context.Context, fn func(context.Context, *queue.Envelope)) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("stream reset")
	}
	if f.deliver != nil {
		fn(ctx, queue.NewEnvelope("m", f.deliver, nil, func() {}, func() {}))
	}
	f.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestListenerResubscribesWithBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver := &flakyReceiver{failures: 3, cancel: cancel}
	var delays []time.Duration
	l := NewListener(receiver, &stubApplier{outcome: ReceiptApplied}, nil).
		WithWait(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		})

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, 4, receiver.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestListenerEndToEndWithService(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &recordingSender{})
	order, err := svc.Settle(context.Background(), testDecision("vedtak-1"))
	require.NoError(t, err)

	l := NewListener(nil, svc, nil)
	rec := &ackRecorder{}
	l.Handle(context.Background(), rec.envelope(encodedKvittering(t, "12")))

	assert.Equal(t, 1, rec.acked)
	assert.Equal(t, StatusFailed, repo.status(order.ID))
}

func TestResubscribeDelayCaps(t *testing.T) {
	assert.Equal(t, time.Second, resubscribeDelay(0))
	assert.Equal(t, 16*time.Second, resubscribeDelay(4))
	assert.Equal(t, 30*time.Second, resubscribeDelay(5))
	assert.Equal(t, 30*time.Second, resubscribeDelay(50))
}
