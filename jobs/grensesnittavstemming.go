package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/settlement-bridge/internal/avstemming"
	jobmetrics "github.com/odyssey-erp/settlement-bridge/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Reconciler runs one reconciliation.
type Reconciler interface {
	NextPeriod(ctx context.Context) (avstemming.Period, error)
	Run(ctx context.Context) (avstemming.Record, error)
}

// Leader reports whether this instance may run singleton work.
type Leader interface {
	IsLeader(ctx context.Context) bool
}

// GrensesnittavstemmingJob gates the reconciliation on leadership. At most
// one run is in flight per process.
type GrensesnittavstemmingJob struct {
	Service Reconciler
	Leader  Leader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// MinWindow is the shortest window a scheduled tick reconciles. A
	// scheduled tick arriving sooner after the previous run is a duplicate.
	MinWindow time.Duration
	running   sync.Mutex
	clock     func() time.Time
}

// NewGrensesnittavstemmingJob constructs the job handler.
func NewGrensesnittavstemmingJob(service Reconciler, leader Leader, logger *slog.Logger, metrics *jobmetrics.Metrics) *GrensesnittavstemmingJob {
	return &GrensesnittavstemmingJob{
		Service: service,
		Leader:  leader,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs one tick. A tick on a non-leader does nothing. Errors are not
// retried within the tick; the window stays put and the next tick covers it.
func (j *GrensesnittavstemmingJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil || j.Leader == nil {
		return errors.New("grensesnittavstemming: dependencies not configured")
	}
	trigger := triggerOf(t)
	if !j.Leader.IsLeader(ctx) {
		j.log().Info("not leader, skipping tick", slog.String("trigger", trigger))
		return nil
	}
	if !j.running.TryLock() {
		j.log().Info("reconciliation in progress, skipping tick", slog.String("trigger", trigger))
		return nil
	}
	defer j.running.Unlock()

	if trigger == TriggerSchedule && j.MinWindow > 0 {
		period, err := j.Service.NextPeriod(ctx)
		if err == nil && period.To.Sub(period.From) < j.MinWindow {
			err = fmt.Errorf("%w: window %s shorter than %s", avstemming.ErrInvalidPeriod, period.To.Sub(period.From), j.MinWindow)
		}
		if errors.Is(err, avstemming.ErrInvalidPeriod) {
			j.log().Info("window already reconciled, skipping tick", slog.Any("reason", err))
			return nil
		}
	}

	tracker := j.metrics().Track(TaskGrensesnittavstemming)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	rec, err := j.Service.Run(ctx)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, avstemming.ErrInvalidPeriod) {
			level = slog.LevelWarn
		}
		j.log().Log(ctx, level, "grensesnittavstemming aborted", slog.Any("error", err))
		resultErr = fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		return resultErr
	}
	j.log().Info("grensesnittavstemming recorded",
		slog.String("run_id", rec.RunID),
		slog.String("trigger", trigger),
		slog.Int("orders", rec.OrderCount),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return resultErr
}

func triggerOf(t *asynq.Task) string {
	if t == nil || len(t.Payload()) == 0 {
		return TriggerSchedule
	}
	var payload GrensesnittavstemmingPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Trigger == "" {
		return TriggerSchedule
	}
	return payload.Trigger
}

func (j *GrensesnittavstemmingJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GrensesnittavstemmingJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGrensesnittavstemming))
	}
	return slog.Default().With(slog.String("job", TaskGrensesnittavstemming))
}

func (j *GrensesnittavstemmingJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *GrensesnittavstemmingJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
