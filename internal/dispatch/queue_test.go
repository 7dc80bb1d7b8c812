package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiepalbien/app-finzas/internal/service"
)

type recordingHandler struct {
	err     error
	release chan struct{} // When set, Handle blocks until it is closed
	jobs    []service.Job
	mu      sync.Mutex
}

func (h *recordingHandler) Handle(ctx context.Context, job service.Job) error {
	if h.release != nil {
		select {
		case <-h.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	return h.err
}

func (h *recordingHandler) Jobs() []service.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]service.Job(nil), h.jobs...)
}

func drain(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
}

func TestQueue_RunsJobs(t *testing.T) {
	h := &recordingHandler{}
	q := NewQueue(h, QueueOptions{Workers: 2, Rate: 1000})
	q.Start(context.Background())
	defer q.Stop()

	ctx := context.Background()
	require.NoError(t, q.Dispatch(ctx, service.Job{OwnerID: 1, Max: 50, Reason: "label"}))
	require.NoError(t, q.Dispatch(ctx, service.Job{OwnerID: 2, Max: 50, Reason: "label"}))
	drain(t, q)

	jobs := h.Jobs()
	require.Len(t, jobs, 2)
	owners := []int64{jobs[0].OwnerID, jobs[1].OwnerID}
	assert.ElementsMatch(t, []int64{1, 2}, owners)
	for _, job := range jobs {
		_, err := uuid.Parse(job.ID)
		assert.NoError(t, err, "job id %q", job.ID)
	}
}

func TestQueue_CoalescesPerOwner(t *testing.T) {
	tests := []struct {
		name    string
		caps    []int
		wantMax int
	}{
		{name: "larger cap wins", caps: []int{50, 80, 10}, wantMax: 80},
		{name: "unlimited wins", caps: []int{50, 0}, wantMax: 0},
		{name: "single job", caps: []int{50}, wantMax: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			reg := prometheus.NewRegistry()
			q := NewQueue(h, QueueOptions{Workers: 1, Rate: 1000, Registerer: reg})

			ctx := context.Background()
			for _, c := range tt.caps {
				require.NoError(t, q.Dispatch(ctx, service.Job{ID: "first", OwnerID: 7, Max: c}))
			}
			assert.InDelta(t, 1, testutil.ToFloat64(q.depth), 1e-9)

			q.Start(ctx)
			defer q.Stop()
			drain(t, q)

			jobs := h.Jobs()
			require.Len(t, jobs, 1)
			assert.Equal(t, tt.wantMax, jobs[0].Max)
			assert.Equal(t, "first", jobs[0].ID)
			assert.InDelta(t, float64(len(tt.caps)-1), testutil.ToFloat64(q.dispatched.WithLabelValues("coalesced")), 1e-9)
		})
	}
}

func TestQueue_RunningJobDoesNotAbsorbNewOne(t *testing.T) {
	h := &recordingHandler{release: make(chan struct{})}
	q := NewQueue(h, QueueOptions{Workers: 1, Rate: 1000})
	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Dispatch(ctx, service.Job{OwnerID: 3, Max: 1}))
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.pending) == 0
	}, time.Second, 5*time.Millisecond, "worker should pick the job up")

	require.NoError(t, q.Dispatch(ctx, service.Job{OwnerID: 3, Max: 2}))
	close(h.release)
	drain(t, q)

	jobs := h.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, 1, jobs[0].Max)
	assert.Equal(t, 2, jobs[1].Max)
}

func TestQueue_Full(t *testing.T) {
	q := NewQueue(&recordingHandler{}, QueueOptions{QueueSize: 1})
	ctx := context.Background()

	require.NoError(t, q.Dispatch(ctx, service.Job{OwnerID: 1}))
	require.NoError(t, q.Dispatch(ctx, service.Job{OwnerID: 1}), "same owner coalesces")

	err := q.Dispatch(ctx, service.Job{OwnerID: 2})
	require.ErrorIs(t, err, ErrQueueFull)

	q.Stop()
	drain(t, q)
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(&recordingHandler{}, QueueOptions{})
	q.Start(context.Background())
	q.Stop()
	q.Stop()

	err := q.Dispatch(context.Background(), service.Job{OwnerID: 1})
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_InvalidOwner(t *testing.T) {
	q := NewQueue(&recordingHandler{}, QueueOptions{})
	require.Error(t, q.Dispatch(context.Background(), service.Job{}))
}

func TestQueue_HandlerErrorKeepsWorking(t *testing.T) {
	h := &recordingHandler{err: errors.New("database is locked")}
	q := NewQueue(h, QueueOptions{Workers: 1, Rate: 1000})
	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop()

	for owner := int64(1); owner <= 3; owner++ {
		require.NoError(t, q.Dispatch(ctx, service.Job{OwnerID: owner}))
	}
	drain(t, q)

	assert.Len(t, h.Jobs(), 3)
}

func TestQueue_DrainHonorsContext(t *testing.T) {
	h := &recordingHandler{release: make(chan struct{})}
	q := NewQueue(h, QueueOptions{Workers: 1, Rate: 1000})
	q.Start(context.Background())
	defer q.Stop()
	defer close(h.release)

	require.NoError(t, q.Dispatch(context.Background(), service.Job{OwnerID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Drain(ctx), context.DeadlineExceeded)
}

func TestMergeCap(t *testing.T) {
	assert.Equal(t, 80, mergeCap(50, 80))
	assert.Equal(t, 0, mergeCap(0, 80))
	assert.Equal(t, 0, mergeCap(50, 0))
}
