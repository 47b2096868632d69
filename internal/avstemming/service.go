package avstemming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	jobmetrics "github.com/odyssey-erp/settlement-bridge/internal/jobs"
	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag"
	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag/wire"
	"github.com/odyssey-erp/settlement-bridge/internal/platform/queue"
)

// OrderSource selects orders by reconciliation key.
type OrderSource interface {
	OrdersInKeyRange(ctx context.Context, from, to time.Time) ([]oppdrag.PaymentOrder, error)
}

// OrderedPublisher publishes messages that must arrive in sequence.
type OrderedPublisher interface {
	PublishOrdered(ctx context.Context, topic, orderingKey string, data []byte, attrs map[string]string) (string, error)
}

// Config wires a Service.
type Config struct {
	Topic string
	Epoch time.Time
	// SettleLag holds the window end back from now so that an order keyed
	// just before the end has committed by the time it is selected.
	SettleLag time.Duration
	Report    ReportConfig
}

// Service runs one grensesnittavstemming per call.
type Service struct {
	repo      Repository
	orders    OrderSource
	publisher OrderedPublisher
	builder   *ReportBuilder
	cfg       Config
	clock     func() time.Time
	newRunID  func() string
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
	tracer    trace.Tracer
}

// NewService constructs a reconciliation service.
func NewService(repo Repository, orders OrderSource, publisher OrderedPublisher, cfg Config, logger *slog.Logger, metrics *jobmetrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		orders:    orders,
		publisher: publisher,
		builder:   NewReportBuilder(cfg.Report),
		cfg:       cfg,
		clock:     time.Now,
		newRunID:  func() string { return uuid.NewString() },
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("github.com/odyssey-erp/settlement-bridge/internal/avstemming"),
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// NextPeriod returns the window the next run would cover.
func (s *Service) NextPeriod(ctx context.Context) (Period, error) {
	from := s.cfg.Epoch
	last, err := s.repo.LatestRecord(ctx)
	switch {
	case err == nil:
		from = last.Period.To
	case !errors.Is(err, ErrNoRecord):
		return Period{}, fmt.Errorf("latest record: %w", err)
	}
	p := Period{From: from, To: s.clock().Add(-s.cfg.SettleLag).Truncate(time.Microsecond)}
	return p, p.Validate()
}

// Run selects every order in the next window, transmits the framed report
// and records the run. The record is written only after every frame was
// published.
func (s *Service) Run(ctx context.Context) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "avstemming.Run")
	defer span.End()

	rec, err := s.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}
	span.SetAttributes(
		attribute.String("run_id", rec.RunID),
		attribute.Int("order_count", rec.OrderCount),
	)
	return rec, nil
}

func (s *Service) run(ctx context.Context) (Record, error) {
	period, err := s.NextPeriod(ctx)
	if err != nil {
		return Record{}, err
	}
	orders, err := s.orders.OrdersInKeyRange(ctx, period.From, period.To)
	if err != nil {
		return Record{}, fmt.Errorf("select orders: %w", err)
	}

	runID := s.newRunID()
	logger := s.log().With(
		slog.String("run_id", runID),
		slog.Time("from", period.From),
		slog.Time("to", period.To),
	)
	report := s.builder.Build(runID, period, orders)

	for i, frame := range report.Frames {
		body, err := wire.MarshalAvstemming(frame)
		if err != nil {
			return Record{}, err
		}
		attrs := map[string]string{queue.AttrMessageType: "avstemming-" + frame.Aksjon.AksjonType}
		if _, err := s.publisher.PublishOrdered(ctx, s.cfg.Topic, runID, body, attrs); err != nil {
			logger.Error("avstemming frame not transmitted, run aborted",
				slog.Int("frame", i),
				slog.String("aksjon", frame.Aksjon.AksjonType),
				slog.Any("error", err),
			)
			return Record{}, fmt.Errorf("%w: frame %d (%s): %w", ErrTransmit, i, frame.Aksjon.AksjonType, err)
		}
	}

	rec, err := s.repo.InsertRecord(ctx, Record{
		RunID:      runID,
		Period:     period,
		OrderCount: len(orders),
		Summary:    report.Summary,
	})
	if err != nil {
		return Record{}, fmt.Errorf("record run: %w", err)
	}
	s.metrics.AddReconciled(rec.OrderCount)
	logger.Info("avstemming completed",
		slog.Int("orders", rec.OrderCount),
		slog.Int("messages", report.Summary.Messages),
	)
	return rec, nil
}

// Records lists recent runs.
func (s *Service) Records(ctx context.Context, limit int) ([]Record, error) {
	return s.repo.ListRecords(ctx, limit)
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default().With(slog.String("component", "avstemming.service"))
}
