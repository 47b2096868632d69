package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/settlement-bridge/jobs"
)

type stubEnqueuer struct {
	triggers []string
}

func (s *stubEnqueuer) EnqueueGrensesnittavstemming(_ context.Context, trigger string) (*asynq.TaskInfo, error) {
	s.triggers = append(s.triggers, trigger)
	return &asynq.TaskInfo{ID: "t-1", Type: jobs.TaskGrensesnittavstemming}, nil
}

type stubInspector struct {
	info     *asynq.QueueInfo
	archived []*asynq.TaskInfo
	ran      []string
	runErr   error
}

func (s *stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, nil }

func (s *stubInspector) ListArchivedTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.archived, nil
}

func (s *stubInspector) RunTask(_, id string) error {
	if s.runErr != nil {
		return s.runErr
	}
	s.ran = append(s.ran, id)
	return nil
}

func TestReconcileEnqueues(t *testing.T) {
	enq := &stubEnqueuer{}
	var out bytes.Buffer
	require.NoError(t, NewJobsCLI(enq, nil, &out).Reconcile(context.Background()))
	assert.Equal(t, []string{"cli"}, enq.triggers)
	assert.Contains(t, out.String(), "t-1")
}

func TestQueuePrintsStatus(t *testing.T) {
	insp := &stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Archived: 1}}
	var out bytes.Buffer
	require.NoError(t, NewJobsCLI(nil, insp, &out).Queue())

	var status jobs.QueueStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.Equal(t, 3, status.Pending)
	assert.Equal(t, 1, status.Archived)
}

func TestArchivedSettlesFiltersByType(t *testing.T) {
	failedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	insp := &stubInspector{archived: []*asynq.TaskInfo{
		{ID: "a", Type: jobs.TaskSettleDecision, LastErr: "oppdrag: send failed", LastFailedAt: failedAt},
		{ID: "b", Type: jobs.TaskGrensesnittavstemming, LastErr: "broker down", LastFailedAt: failedAt},
	}}
	var out bytes.Buffer
	require.NoError(t, NewJobsCLI(nil, insp, &out).ArchivedSettles(0))
	assert.Contains(t, out.String(), "a\t2024-03-01T12:00:00Z\toppdrag: send failed")
	assert.NotContains(t, out.String(), "broker down")
}

func TestRerun(t *testing.T) {
	insp := &stubInspector{}
	var out bytes.Buffer
	c := NewJobsCLI(nil, insp, &out)
	require.Error(t, c.Rerun(""))
	require.NoError(t, c.Rerun("a"))
	assert.Equal(t, []string{"a"}, insp.ran)

	insp.runErr = errors.New("task not found")
	assert.Error(t, c.Rerun("missing"))
}

func TestUnconfiguredCLI(t *testing.T) {
	var c *JobsCLI
	assert.Error(t, c.Reconcile(context.Background()))
	assert.Error(t, c.Queue())
}
