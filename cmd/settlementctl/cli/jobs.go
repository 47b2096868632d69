package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/settlement-bridge/jobs"
)

// Enqueuer is the part of jobs.Client the CLI needs.
type Enqueuer interface {
	EnqueueGrensesnittavstemming(ctx context.Context, trigger string) (*asynq.TaskInfo, error)
}

// Inspector is the part of asynq.Inspector the CLI needs.
type Inspector interface {
	jobs.QueueInspector
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
}

// JobsCLI wraps manual management helpers for the settlement queue.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
	out       io.Writer
}

// NewJobsCLI builds the helpers from the given client and inspector.
func NewJobsCLI(client Enqueuer, inspector Inspector, out io.Writer) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector, out: out}
}

// Reconcile enqueues an out-of-schedule grensesnittavstemming. Only the
// leading worker acts on it.
func (c *JobsCLI) Reconcile(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("jobs cli: client not configured")
	}
	info, err := c.client.EnqueueGrensesnittavstemming(ctx, "cli")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "enqueued %s (%s)\n", info.ID, info.Type)
	return err
}

// Queue prints the state of the default queue as JSON.
func (c *JobsCLI) Queue() error {
	if c == nil || c.inspector == nil {
		return errors.New("jobs cli: inspector not configured")
	}
	status, err := jobs.InspectQueue(c.inspector)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

// ArchivedSettles lists settle tasks that failed and are waiting for an
// operator.
func (c *JobsCLI) ArchivedSettles(size int) error {
	if c == nil || c.inspector == nil {
		return errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 20
	}
	tasks, err := c.inspector.ListArchivedTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Type != jobs.TaskSettleDecision {
			continue
		}
		if _, err := fmt.Fprintf(c.out, "%s\t%s\t%s\n", t.ID, t.LastFailedAt.Format("2006-01-02T15:04:05Z07:00"), t.LastErr); err != nil {
			return err
		}
	}
	return nil
}

// Rerun moves an archived task back to pending.
func (c *JobsCLI) Rerun(id string) error {
	if c == nil || c.inspector == nil {
		return errors.New("jobs cli: inspector not configured")
	}
	if id == "" {
		return errors.New("jobs cli: task id required")
	}
	if err := c.inspector.RunTask(jobs.QueueDefault, id); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.out, "requeued %s\n", id)
	return err
}
