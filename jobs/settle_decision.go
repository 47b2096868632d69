package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/settlement-bridge/internal/jobs"
	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag"
)

// Settler settles a decision into a payment order.
type Settler interface {
	Settle(ctx context.Context, d oppdrag.Decision) (*oppdrag.PaymentOrder, error)
}

// SettleDecisionJob consumes TaskSettleDecision.
type SettleDecisionJob struct {
	Service Settler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSettleDecisionJob constructs the job handler.
func NewSettleDecisionJob(service Settler, logger *slog.Logger, metrics *jobmetrics.Metrics) *SettleDecisionJob {
	return &SettleDecisionJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle settles the decision carried by the task. Failures are never
// retried by the queue; the task is archived and the order, if created,
// stays CREATED until the decision is settled again.
func (j *SettleDecisionJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("settle decision: dependencies not configured")
	}
	var payload oppdrag.DecisionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskSettleDecision)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	decision, err := payload.Decision()
	if err != nil {
		j.log().Warn("invalid decision payload", slog.String("decision_id", payload.DecisionID), slog.Any("error", err))
		resultErr = fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		return resultErr
	}

	order, err := j.Service.Settle(ctx, decision)
	if err != nil {
		attrs := []any{slog.String("decision_id", decision.DecisionID), slog.Any("error", err)}
		if order != nil {
			attrs = append(attrs, slog.Int64("order_id", order.ID), slog.String("status", string(order.Status)))
		}
		j.log().Error("settle decision", attrs...)
		resultErr = fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		return resultErr
	}
	j.log().Info("decision settled",
		slog.String("decision_id", decision.DecisionID),
		slog.Int64("order_id", order.ID),
		slog.String("status", string(order.Status)),
	)
	return resultErr
}

func (j *SettleDecisionJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SettleDecisionJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSettleDecision))
	}
	return slog.Default().With(slog.String("job", TaskSettleDecision))
}
