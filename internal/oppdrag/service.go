package oppdrag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	jobmetrics "github.com/odyssey-erp/settlement-bridge/internal/jobs"
	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag/wire"
)

// Sender delivers a mapped order to the mainframe.
type Sender interface {
	Send(ctx context.Context, o wire.Oppdrag) error
}

// ReceiptOutcome reports what a kvittering did to its order.
type ReceiptOutcome string

const (
	// ReceiptApplied means the order moved SENT -> CONFIRMED or FAILED.
	ReceiptApplied ReceiptOutcome = "applied"
	// ReceiptDuplicate means the order was already terminal.
	ReceiptDuplicate ReceiptOutcome = "duplicate"
	// ReceiptNotSent means the order has not been recorded as SENT yet.
	ReceiptNotSent ReceiptOutcome = "not_sent"
	// ReceiptUnknown means no order matches the kvittering.
	ReceiptUnknown ReceiptOutcome = "unknown"
)

// Service orchestrates settlement of decisions into payment orders.
type Service struct {
	repo    Repository
	mapper  *Mapper
	sender  Sender
	keys    *KeyClock
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	tracer  trace.Tracer
}

// NewService constructs the settlement orchestrator.
func NewService(repo Repository, mapper *Mapper, sender Sender, keys *KeyClock, logger *slog.Logger, metrics *jobmetrics.Metrics) *Service {
	if keys == nil {
		keys = NewKeyClock(nil)
	}
	return &Service{
		repo:    repo,
		mapper:  mapper,
		sender:  sender,
		keys:    keys,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/odyssey-erp/settlement-bridge/internal/oppdrag"),
	}
}

// Settle creates the order for a decision and sends it. Calling Settle again
// for the same decision never creates a second order; an order still CREATED
// from an earlier failed send is dispatched again.
func (s *Service) Settle(ctx context.Context, d Decision) (*PaymentOrder, error) {
	res, err := s.SettleDecision(ctx, d)
	return res.Order, err
}

// SettleResult is the order a settle left behind. Created is false when the
// decision already had an order.
type SettleResult struct {
	Order   *PaymentOrder
	Created bool
}

// SettleDecision is Settle reporting whether the call created the order.
func (s *Service) SettleDecision(ctx context.Context, d Decision) (SettleResult, error) {
	ctx, span := s.tracer.Start(ctx, "oppdrag.Settle", trace.WithAttributes(
		attribute.String("case_id", d.CaseID),
		attribute.String("decision_id", d.DecisionID),
	))
	defer span.End()

	res, err := s.settle(ctx, d)
	span.SetAttributes(attribute.Bool("created", res.Created))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Service) settle(ctx context.Context, d Decision) (SettleResult, error) {
	if err := d.Validate(); err != nil {
		return SettleResult{}, err
	}

	existing, err := s.repo.FindByDecision(ctx, d.DecisionID)
	switch {
	case err == nil:
		order, err := s.resume(ctx, existing)
		return SettleResult{Order: order}, err
	case !errors.Is(err, ErrNotFound):
		return SettleResult{}, fmt.Errorf("lookup decision: %w", err)
	}

	order, err := s.create(ctx, d)
	if errors.Is(err, ErrDuplicateDecision) {
		// A concurrent settle won the insert.
		existing, err := s.repo.FindByDecision(ctx, d.DecisionID)
		if err != nil {
			return SettleResult{}, fmt.Errorf("reload decision: %w", err)
		}
		order, err := s.resume(ctx, existing)
		return SettleResult{Order: order}, err
	}
	if err != nil {
		return SettleResult{}, err
	}
	order, err = s.dispatch(ctx, order)
	return SettleResult{Order: order, Created: true}, err
}

func (s *Service) resume(ctx context.Context, order *PaymentOrder) (*PaymentOrder, error) {
	if order.Status != StatusCreated {
		s.log().Info("decision already settled",
			slog.Int64("order_id", order.ID),
			slog.String("decision_id", order.DecisionID),
			slog.String("status", string(order.Status)),
		)
		return order, nil
	}
	return s.dispatch(ctx, order)
}

func (s *Service) create(ctx context.Context, d Decision) (*PaymentOrder, error) {
	lines := d.Lines()
	history, err := s.repo.LinesForCase(ctx, d.CaseID)
	if err != nil {
		return nil, fmt.Errorf("load case lines: %w", err)
	}
	chain, err := NewLineChain(history)
	if err != nil {
		return nil, err
	}
	if err := chain.Check(lines); err != nil {
		return nil, err
	}
	for i := range lines {
		if err := lines[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: instruction %d: %v", ErrInvalidDecision, i, err)
		}
	}

	order := PaymentOrder{
		CaseID:            d.CaseID,
		DecisionID:        d.DecisionID,
		BehandlingID:      d.BehandlingID,
		RecipientID:       d.RecipientID,
		CaseWorkerID:      d.CaseWorkerID,
		ApproverID:        d.ApproverID,
		ReconciliationKey: s.keys.Next(),
		Status:            StatusCreated,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		order.Lines = make([]PaymentLine, 0, len(lines))
		for _, line := range lines {
			line.OrderID = id
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			order.Lines = append(order.Lines, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("oppdrag created",
		slog.Int64("order_id", order.ID),
		slog.String("case_id", order.CaseID),
		slog.String("decision_id", order.DecisionID),
		slog.Int("lines", len(order.Lines)),
	)
	return &order, nil
}

// dispatch maps and sends a CREATED order and records SENT. A send failure
// leaves the order CREATED.
func (s *Service) dispatch(ctx context.Context, order *PaymentOrder) (*PaymentOrder, error) {
	prior, err := s.repo.PriorOrders(ctx, order.CaseID, order.ID)
	if err != nil {
		return order, fmt.Errorf("prior orders: %w", err)
	}
	if prior.Pending > 0 {
		return order, fmt.Errorf("%w: case %s has %d earlier unsent orders", ErrSend, order.CaseID, prior.Pending)
	}

	wo, err := s.mapper.Map(*order, prior.Delivered == 0)
	if err != nil {
		return order, err
	}
	if err := s.sender.Send(ctx, wo); err != nil {
		s.metrics.ObserveSend("error")
		s.log().Warn("oppdrag send failed, order left CREATED",
			slog.Int64("order_id", order.ID),
			slog.String("decision_id", order.DecisionID),
			slog.Any("error", err),
		)
		return order, err
	}
	s.metrics.ObserveSend("ok")

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.TransitionStatus(ctx, order.ID, StatusCreated, StatusSent, nil)
	})
	if err != nil {
		return order, fmt.Errorf("mark sent: %w", err)
	}
	s.metrics.ObserveTransition(string(StatusSent))
	order.Status = StatusSent
	return order, nil
}

// Resend dispatches an order that is still CREATED.
func (s *Service) Resend(ctx context.Context, id int64) (*PaymentOrder, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusCreated {
		return order, fmt.Errorf("%w: order %d is %s", ErrNotResendable, id, order.Status)
	}
	return s.dispatch(ctx, order)
}

// ApplyReceipt folds a parsed kvittering into its order. A rejection is a
// normal FAILED outcome, not an error.
func (s *Service) ApplyReceipt(ctx context.Context, k wire.Oppdrag) (ReceiptOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "oppdrag.ApplyReceipt", trace.WithAttributes(
		attribute.String("fagsystem_id", k.Oppdrag110.FagsystemID),
		attribute.String("vedtak_id", k.VedtakID()),
	))
	defer span.End()

	outcome, err := s.applyReceipt(ctx, k)
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.ObserveReceipt(string(outcome))
	return outcome, err
}

func (s *Service) applyReceipt(ctx context.Context, k wire.Oppdrag) (ReceiptOutcome, error) {
	if k.Mmel == nil {
		return "", fmt.Errorf("%w: missing mmel", ErrMalformedReceipt)
	}
	order, err := s.repo.FindByDecision(ctx, k.VedtakID())
	if errors.Is(err, ErrNotFound) {
		s.log().Warn("kvittering for unknown order", slog.String("vedtak_id", k.VedtakID()))
		return ReceiptUnknown, nil
	}
	if err != nil {
		return "", err
	}
	if order.CaseID != k.Oppdrag110.FagsystemID {
		s.log().Warn("kvittering case mismatch",
			slog.Int64("order_id", order.ID),
			slog.String("case_id", order.CaseID),
			slog.String("fagsystem_id", k.Oppdrag110.FagsystemID),
		)
		return ReceiptUnknown, nil
	}

	logger := s.log().With(slog.Int64("order_id", order.ID), slog.String("decision_id", order.DecisionID))
	switch {
	case order.Status.Terminal():
		logger.Warn("kvittering for terminal order ignored",
			slog.String("status", string(order.Status)),
			slog.String("alvorlighetsgrad", k.Mmel.Alvorlighetsgrad),
		)
		return ReceiptDuplicate, nil
	case order.Status == StatusCreated:
		return ReceiptNotSent, nil
	}

	to, failure := StatusConfirmed, (*FailureDetail)(nil)
	if !k.Mmel.Accepted() {
		to = StatusFailed
		failure = &FailureDetail{
			Severity:    k.Mmel.Alvorlighetsgrad,
			MessageCode: k.Mmel.KodeMelding,
			Text:        k.Mmel.BeskrMelding,
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.TransitionStatus(ctx, order.ID, StatusSent, to, failure)
	})
	if errors.Is(err, ErrStaleTransition) {
		// Another delivery of the same kvittering got there first.
		logger.Info("kvittering raced a concurrent delivery")
		return ReceiptDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	s.metrics.ObserveTransition(string(to))
	if failure != nil {
		logger.Warn("oppdrag rejected",
			slog.String("alvorlighetsgrad", failure.Severity),
			slog.String("kode_melding", failure.MessageCode),
			slog.String("beskr_melding", failure.Text),
		)
	} else {
		logger.Info("oppdrag confirmed")
	}
	return ReceiptApplied, nil
}

// Get returns one order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*PaymentOrder, error) {
	return s.repo.Get(ctx, id)
}

// List returns orders matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PaymentOrder, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidDecision, filter.Status)
	}
	return s.repo.List(ctx, filter)
}

// CurrentLines returns the unsuperseded lines of a case.
func (s *Service) CurrentLines(ctx context.Context, caseID string) ([]PaymentLine, error) {
	lines, err := s.repo.LinesForCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	chain, err := NewLineChain(lines)
	if err != nil {
		return nil, err
	}
	return chain.Current(), nil
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default().With(slog.String("component", "oppdrag.service"))
}
