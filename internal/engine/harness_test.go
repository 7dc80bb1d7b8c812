package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/indiepalbien/app-finzas/internal/pattern"
	"github.com/indiepalbien/app-finzas/internal/service"
	"github.com/indiepalbien/app-finzas/internal/testutil"
)

type recordingDispatcher struct {
	err  error
	jobs []service.Job
	mu   sync.Mutex
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job service.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *recordingDispatcher) Jobs() []service.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]service.Job(nil), d.jobs...)
}

// harness wires the engine over a real database.
type harness struct {
	db          *testutil.TestDB
	registry    *prometheus.Registry
	metrics     *Metrics
	dispatcher  *recordingDispatcher
	applier     *Applier
	coordinator *Coordinator
	learner     *Learner
	maintainer  *Maintainer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.SetupTestDB(t)
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	tokenizer := pattern.NewDefaultNormalizer()
	matcher := pattern.NewMatcher(db.Storage, tokenizer, pattern.DefaultMatcherOptions())
	applier := NewApplier(matcher, db.Storage, db.Storage)
	dispatcher := &recordingDispatcher{}

	return &harness{
		db:          db,
		registry:    registry,
		metrics:     metrics,
		dispatcher:  dispatcher,
		applier:     applier,
		coordinator: NewCoordinator(applier, db.Storage, db.Storage, CoordinatorOptions{Metrics: metrics, Workers: 2}),
		learner:     NewLearner(pattern.NewGenerator(tokenizer), db.Storage, db.Storage, dispatcher, LearnerOptions{Metrics: metrics}),
		maintainer:  NewMaintainer(db.Storage, db.Storage, metrics),
	}
}
