package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSettleDecision settles one finalized decision.
	TaskSettleDecision = "oppdrag:settle"
	// TaskGrensesnittavstemming runs the periodic reconciliation.
	TaskGrensesnittavstemming = "avstemming:grensesnitt"

	// TriggerSchedule marks a reconciliation enqueued by the cron scheduler.
	TriggerSchedule = "schedule"
)

// NewSettleDecisionTask constructs a settle task. It is never retried by the
// queue: a failed send is resumed by settling the same decision again.
func NewSettleDecisionTask(payload oppdrag.DecisionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSettleDecision, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
	), nil
}

// GrensesnittavstemmingPayload carries who asked for the run.
type GrensesnittavstemmingPayload struct {
	Trigger string `json:"trigger"`
}

// NewGrensesnittavstemmingTask constructs a reconciliation task.
func NewGrensesnittavstemmingTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = TriggerSchedule
	}
	body, err := json.Marshal(GrensesnittavstemmingPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrensesnittavstemming, body, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}

// GrensesnittavstemmingCronOptions dedupes the scheduled enqueue across every
// worker that registers the same cron entry. ttl must be at least a second.
func GrensesnittavstemmingCronOptions(ttl time.Duration) []asynq.Option {
	if ttl < time.Second {
		ttl = time.Second
	}
	return []asynq.Option{asynq.Unique(ttl)}
}
