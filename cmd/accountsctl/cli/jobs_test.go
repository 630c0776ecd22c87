package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-accounts/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault, Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func (f fakeInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "cron", Queue: queue, Type: jobs.TaskTypePurgeSessions}}, nil
}

func (f fakeInspector) Close() error { return nil }

func TestTriggerPurgeEncodesGrace(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := &JobsCLI{client: enq}

	info, err := c.TriggerPurge(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskTypePurgeSessions, info.Type)
	require.Len(t, enq.tasks, 1)

	var payload jobs.PurgeSessionsPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, int64(7200), payload.GraceSeconds)
}

func TestSendTestEmailValidatesRecipient(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := &JobsCLI{client: enq}

	_, err := c.SendTestEmail(context.Background(), "not-an-address")
	require.Error(t, err)
	require.Empty(t, enq.tasks)

	_, err = c.SendTestEmail(context.Background(), " ops@example.com ")
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	var payload jobs.SendEmailPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, "ops@example.com", payload.To)
}

func TestInspectQueueAndWriteStats(t *testing.T) {
	c := &JobsCLI{inspector: fakeInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}}}

	stats, err := c.InspectQueue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.Pending)

	out := new(bytes.Buffer)
	require.NoError(t, WriteStats(out, stats))
	require.Contains(t, out.String(), "pending    3")
	require.Contains(t, out.String(), "retry      1")

	scheduled, err := c.ListScheduled(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
}

func TestInspectQueuePropagatesError(t *testing.T) {
	c := &JobsCLI{inspector: fakeInspector{err: errors.New("redis down")}}
	_, err := c.InspectQueue(context.Background())
	require.EqualError(t, err, "redis down")

	var empty *JobsCLI
	_, err = empty.TriggerPurge(context.Background(), time.Hour)
	require.Error(t, err)
}

func TestNewJobsCLIRequiresAddress(t *testing.T) {
	_, err := NewJobsCLI("")
	require.Error(t, err)
}
