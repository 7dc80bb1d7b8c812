package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiepalbien/app-finzas/internal/model"
	"github.com/indiepalbien/app-finzas/internal/service"
)

type fakeRunner struct {
	err  error
	caps []int
	mu   sync.Mutex
}

func (r *fakeRunner) RunForAllUsers(_ context.Context, maxPerUser int) (map[int64]service.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps = append(r.caps, maxPerUser)
	return map[int64]service.RunResult{1: {Owner: 1, Applied: 2}}, r.err
}

func (r *fakeRunner) Calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.caps...)
}

type fakeRetirer struct {
	err      error
	criteria []model.RetireCriteria
}

func (r *fakeRetirer) RetireStaleAll(_ context.Context, criteria model.RetireCriteria) (map[int64]int64, error) {
	r.criteria = append(r.criteria, criteria)
	return map[int64]int64{1: 3}, r.err
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScheduler(&fakeRunner{}, nil, SchedulerOptions{RunSchedule: "every now and then"})
	require.Error(t, err)

	_, err = NewScheduler(&fakeRunner{}, &fakeRetirer{}, SchedulerOptions{RetireSchedule: "61 * * * *"})
	require.Error(t, err)
}

func TestScheduler_RunPeriodic(t *testing.T) {
	runner := &fakeRunner{err: errors.New("owner 2 failed")}
	s, err := NewScheduler(runner, nil, SchedulerOptions{PeriodicCap: 100})
	require.NoError(t, err)

	s.RunPeriodic(context.Background())
	s.RunPeriodic(context.Background())

	assert.Equal(t, []int{100, 100}, runner.Calls())
}

func TestScheduler_RetireStale(t *testing.T) {
	retirer := &fakeRetirer{err: errors.New("busy")}
	criteria := model.RetireCriteria{MinAge: time.Hour, MaxUsage: 2, MinAccuracy: 0.5}
	s, err := NewScheduler(&fakeRunner{}, retirer, SchedulerOptions{RetireSchedule: DefaultRetireSchedule, Criteria: criteria})
	require.NoError(t, err)

	s.RetireStale(context.Background())
	assert.Equal(t, []model.RetireCriteria{criteria}, retirer.criteria)

	noRetire, err := NewScheduler(&fakeRunner{}, nil, SchedulerOptions{})
	require.NoError(t, err)
	noRetire.RetireStale(context.Background())
}

func TestScheduler_Fires(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewScheduler(runner, nil, SchedulerOptions{RunSchedule: "@every 1s", PeriodicCap: 5})
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return len(runner.Calls()) > 0 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()

	assert.Equal(t, 5, runner.Calls()[0])
}
