package oppdrag

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag/wire"
	"github.com/odyssey-erp/settlement-bridge/internal/platform/queue"
)

// Receiver streams messages from the reply queue until ctx ends or the
// connection drops.
type Receiver interface {
	Receive(ctx context.Context, fn func(context.Context, *queue.Envelope)) error
}

// ReceiptApplier folds a kvittering into order state.
type ReceiptApplier interface {
	ApplyReceipt(ctx context.Context, k wire.Oppdrag) (ReceiptOutcome, error)
}

const maxResubscribeDelay = 30 * time.Second

// Listener consumes kvitteringer and resubscribes with backoff when the
// stream drops.
type Listener struct {
	receiver Receiver
	applier  ReceiptApplier
	logger   *slog.Logger
	wait     func(context.Context, time.Duration) error
	handled  atomic.Bool
}

// NewListener constructs a confirmation listener.
func NewListener(receiver Receiver, applier ReceiptApplier, logger *slog.Logger) *Listener {
	return &Listener{receiver: receiver, applier: applier, logger: logger, wait: sleepCtx}
}

// WithWait overrides the backoff sleep, mainly for tests.
func (l *Listener) WithWait(wait func(context.Context, time.Duration) error) *Listener {
	if wait != nil {
		l.wait = wait
	}
	return l
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := l.receiver.Receive(ctx, l.Handle)
		if ctx.Err() != nil {
			return nil
		}
		if l.handled.Swap(false) {
			attempt = 0
		}
		delay := resubscribeDelay(attempt)
		attempt++
		l.log().Warn("reply subscription dropped, resubscribing",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
		)
		if err := l.wait(ctx, delay); err != nil {
			return nil
		}
	}
}

// Handle processes one message. Unparseable kvitteringer and those that
// cannot be matched to a SENT order are nacked so the subscription redelivers
// or dead-letters them.
func (l *Listener) Handle(ctx context.Context, env *queue.Envelope) {
	logger := l.log().With(slog.String("message_id", env.ID), slog.Int("delivery_attempt", env.DeliveryAttempt))

	k, err := wire.ParseKvittering(env.Data)
	if err != nil {
		logger.Error("kvittering parse failed", slog.Any("error", err))
		env.Nack()
		return
	}
	outcome, err := l.applier.ApplyReceipt(ctx, k)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelInfo
		}
		logger.Log(ctx, level, "kvittering not applied", slog.Any("error", err))
		env.Nack()
		return
	}
	l.handled.Store(true)

	switch outcome {
	case ReceiptApplied, ReceiptDuplicate:
		env.Ack()
	default:
		logger.Warn("kvittering deferred",
			slog.String("outcome", string(outcome)),
			slog.String("vedtak_id", k.VedtakID()),
		)
		env.Nack()
	}
}

func resubscribeDelay(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	d := time.Duration(1<<attempt) * time.Second
	if d > maxResubscribeDelay {
		d = maxResubscribeDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Listener) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.Default().With(slog.String("component", "oppdrag.listener"))
}
