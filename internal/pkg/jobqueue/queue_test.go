package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewQueue(client, 1)
	q.retryBackoff = 0
	return q, mr
}

func runNext(t *testing.T, q *Queue) *Job {
	t.Helper()
	job, err := q.dequeueJob(context.Background())
	require.NoError(t, err)
	q.processJob(context.Background(), job)
	return job
}

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers)

			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, defaultRetryBackoff, queue.retryBackoff)
			assert.NotNil(t, queue.processors)
			assert.False(t, queue.IsRunning())
		})
	}
}

func TestEnqueueJob(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobTypeSendNotification, NotificationJobPayload{NotificationID: 1, UserID: 2, Kind: "renewal_reminder"}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, DefaultMaxRetries, job.MaxRetries)

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
	assert.True(t, mr.Exists(JobKeyPrefix+job.ID))

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "renewal_reminder", stored.Payload["kind"])
	assert.EqualValues(t, 1, stored.Payload["notification_id"])
}

func TestProcessJob_Success(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	var seen *NotificationJobPayload
	q.RegisterProcessor(JobTypeSendNotification, func(ctx context.Context, job *Job) error {
		p, err := NotificationJobPayloadFromMap(job.Payload)
		seen = p
		return err
	})

	job, err := q.EnqueueJob(ctx, JobTypeSendNotification, NotificationJobPayload{NotificationID: 9, UserID: 3, Kind: "payment_succeeded"}.ToMap())
	require.NoError(t, err)

	runNext(t, q)

	require.NotNil(t, seen)
	assert.Equal(t, uint(9), seen.NotificationID)
	assert.False(t, mr.Exists(JobKeyPrefix+job.ID), "completed jobs are removed")

	processing, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, processing)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats[JobStatusPending])
	assert.EqualValues(t, 1, stats[JobStatusCompleted])
}

func TestProcessJob_RetriesThenFails(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var calls int32
	q.RegisterProcessor(JobTypeSendNotification, func(context.Context, *Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("smtp unavailable")
	})

	job, err := q.EnqueueJob(ctx, JobTypeSendNotification, nil)
	require.NoError(t, err)

	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		require.Eventually(t, func() bool {
			n, _ := q.GetQueueSize(ctx)
			return n == 1
		}, time.Second, 10*time.Millisecond, "attempt %d should be queued", attempt)
		runNext(t, q)
	}

	assert.EqualValues(t, DefaultMaxRetries, atomic.LoadInt32(&calls))

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, "smtp unavailable", stored.ErrorMsg)
	assert.Equal(t, DefaultMaxRetries, stored.RetryCount)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats[JobStatusFailed])

	time.Sleep(20 * time.Millisecond)
	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size, "exhausted jobs are not requeued")
}

func TestProcessJob_UnknownType(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobType("unknown"), nil)
	require.NoError(t, err)
	runNext(t, q)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.ErrorMsg, "unknown job type")
	assert.Equal(t, 1, stored.RetryCount)
}

func TestRecoverStuck(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	stale, err := q.EnqueueJob(ctx, JobTypeSendNotification, nil)
	require.NoError(t, err)
	fresh, err := q.EnqueueJob(ctx, JobTypeSendNotification, nil)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 2; i++ {
		job, err := q.dequeueJob(ctx)
		require.NoError(t, err)
		job.MarkAsProcessing()
		if job.ID == stale.ID {
			started := now.Add(-time.Hour)
			job.ProcessedAt = &started
		}
		q.updateJob(ctx, job)
	}

	recovered, err := q.recoverStuck(ctx, 10*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	pending, err := q.client.LRange(ctx, JobQueueKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, pending)

	processing, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, processing)

	job, err := q.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, "recovered by sweeper", job.ErrorMsg)
}

func TestRecoverStuck_DropsMissingJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.client.LPush(ctx, JobProcessingKey, "ghost").Err())

	recovered, err := q.recoverStuck(ctx, time.Minute, time.Now())
	require.NoError(t, err)
	assert.Zero(t, recovered)

	size, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestQueue_StartStopProcessesJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	done := make(chan string, 1)
	q.RegisterProcessor(JobTypeSendNotification, func(_ context.Context, job *Job) error {
		done <- job.ID
		return nil
	})

	q.Start()
	defer q.Stop()
	assert.True(t, q.IsRunning())

	job, err := q.EnqueueJob(ctx, JobTypeSendNotification, nil)
	require.NoError(t, err)

	select {
	case id := <-done:
		assert.Equal(t, job.ID, id)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not pick up the job")
	}
}
