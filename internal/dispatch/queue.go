// Package dispatch runs engine jobs in the background: a paced worker queue
// for label-triggered runs and a cron scheduler for periodic passes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/indiepalbien/app-finzas/internal/service"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New("dispatch queue is full")
	ErrQueueClosed = errors.New("dispatch queue is closed")
)

// Default queue sizing.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 256
	DefaultRate      = 5.0
)

// Ensure Queue implements service.Dispatcher.
var _ service.Dispatcher = (*Queue)(nil)

// Handler executes one job. engine.Coordinator implements it.
type Handler interface {
	Handle(ctx context.Context, job service.Job) error
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Registerer prometheus.Registerer
	Workers    int
	QueueSize  int
	Rate       float64 // Jobs started per second across all workers
}

// Queue is a bounded worker pool. It keeps at most one pending job per owner:
// a job dispatched for an owner that is already waiting is folded into the
// waiting one.
type Queue struct {
	handler Handler
	limiter *rate.Limiter
	ready   chan int64
	pending map[int64]service.Job
	idle    chan struct{}
	cancel  context.CancelFunc
	workers sync.WaitGroup
	mu      sync.Mutex
	active  int // Jobs accepted and not yet finished
	size    int
	nworker int
	started bool
	closed  bool

	dispatched *prometheus.CounterVec
	depth      prometheus.Gauge
	duration   prometheus.Histogram
}

// NewQueue creates a queue. Jobs may be dispatched before Start; they wait.
func NewQueue(handler Handler, opts QueueOptions) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(opts.Registerer)

	idle := make(chan struct{})
	close(idle)

	return &Queue{
		handler: handler,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Workers),
		ready:   make(chan int64, opts.QueueSize),
		pending: make(map[int64]service.Job),
		idle:    idle,
		size:    opts.QueueSize,
		nworker: opts.Workers,
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finzas_dispatch_jobs_total",
			Help: "Jobs offered to the dispatch queue, by result.",
		}, []string{"result"}),
		depth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "finzas_dispatch_pending_jobs",
			Help: "Jobs waiting for a worker.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "finzas_dispatch_job_duration_seconds",
			Help:    "Time spent running dispatched jobs.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Dispatch enqueues job without waiting for it to run. A job for an owner
// that already has one waiting is merged into it and keeps the larger cap.
func (q *Queue) Dispatch(_ context.Context, job service.Job) error {
	if job.OwnerID <= 0 {
		return fmt.Errorf("invalid owner %d for job", job.OwnerID)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dispatched.WithLabelValues("closed").Inc()
		return ErrQueueClosed
	}

	if waiting, ok := q.pending[job.OwnerID]; ok {
		waiting.Max = mergeCap(waiting.Max, job.Max)
		q.pending[job.OwnerID] = waiting
		q.dispatched.WithLabelValues("coalesced").Inc()
		slog.Debug("Coalesced job", "owner_id", job.OwnerID, "job_id", waiting.ID, "max", waiting.Max)
		return nil
	}

	select {
	case q.ready <- job.OwnerID:
	default:
		q.dispatched.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %d jobs waiting", ErrQueueFull, q.size)
	}

	q.pending[job.OwnerID] = job
	if q.active == 0 {
		q.idle = make(chan struct{})
	}
	q.active++
	q.depth.Inc()
	q.dispatched.WithLabelValues("queued").Inc()

	slog.Debug("Queued job", "owner_id", job.OwnerID, "job_id", job.ID, "reason", job.Reason, "max", job.Max)
	return nil
}

// mergeCap combines two caps where zero means unlimited.
func mergeCap(a, b int) int {
	if a <= 0 || b <= 0 {
		return 0
	}
	return max(a, b)
}

// Start launches the workers. Jobs run with a context derived from ctx;
// canceling ctx abandons waiting jobs.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.nworker; i++ {
		q.workers.Add(1)
		go q.work(ctx)
	}
	slog.Debug("Dispatch queue started", "workers", q.nworker)
}

func (q *Queue) work(ctx context.Context) {
	defer q.workers.Done()

	for owner := range q.ready {
		job := q.take(owner)

		if err := q.limiter.Wait(ctx); err != nil {
			slog.Warn("Dropped job", "owner_id", job.OwnerID, "job_id", job.ID, "error", err)
			q.finish()
			continue
		}

		start := time.Now()
		if err := q.handler.Handle(ctx, job); err != nil {
			slog.Error("Job failed",
				"owner_id", job.OwnerID,
				"job_id", job.ID,
				"reason", job.Reason,
				"error", err)
		}
		q.duration.Observe(time.Since(start).Seconds())
		q.finish()
	}
}

// take removes the waiting job of owner, so a later dispatch queues a new run.
func (q *Queue) take(owner int64) service.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.pending[owner]
	delete(q.pending, owner)
	q.depth.Dec()
	return job
}

func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	if q.active == 0 {
		close(q.idle)
	}
}

// Drain blocks until every accepted job has finished or ctx is done.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new jobs, lets the workers finish what is queued and waits
// for them. Jobs queued on a queue that was never started are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ready)
	started := q.started
	q.mu.Unlock()

	if !started {
		for owner := range q.ready {
			q.take(owner)
			q.finish()
		}
		return
	}

	q.workers.Wait()
	q.cancel()
	slog.Debug("Dispatch queue stopped")
}
