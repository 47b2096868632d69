package oppdrag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag/wire"
	"github.com/odyssey-erp/settlement-bridge/internal/platform/queue"
)

// Publisher is the send half of a queue.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

// TransportConfig names the queues an order travels on.
type TransportConfig struct {
	RequestTopic string
	ReplyTo      string
	Timeout      time.Duration
}

// Transport puts mapped orders on the request queue. It never retries: a
// duplicate disbursement is worse than a missed send.
type Transport struct {
	publisher Publisher
	cfg       TransportConfig
	logger    *slog.Logger
}

// NewTransport constructs a transport.
func NewTransport(publisher Publisher, cfg TransportConfig, logger *slog.Logger) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Transport{publisher: publisher, cfg: cfg, logger: logger}
}

// Send publishes the order tagged with the reply queue address. It returns
// once the queue accepted the message; the kvittering arrives separately.
func (t *Transport) Send(ctx context.Context, o wire.Oppdrag) error {
	body, err := wire.MarshalOppdrag(o)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	attrs := map[string]string{
		queue.AttrReplyTo:     t.cfg.ReplyTo,
		queue.AttrFagsystemID: o.Oppdrag110.FagsystemID,
		queue.AttrVedtakID:    o.VedtakID(),
		queue.AttrMessageType: "oppdrag",
	}

	sendCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	id, err := t.publisher.Publish(sendCtx, t.cfg.RequestTopic, body, attrs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	t.log().Info("oppdrag sent",
		slog.String("fagsystem_id", o.Oppdrag110.FagsystemID),
		slog.String("vedtak_id", o.VedtakID()),
		slog.String("kode_endring", o.Oppdrag110.KodeEndring),
		slog.String("message_id", id),
	)
	return nil
}

func (t *Transport) log() *slog.Logger {
	if t.logger != nil {
		return t.logger
	}
	return slog.Default().With(slog.String("component", "oppdrag.transport"))
}
