package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/indiepalbien/app-finzas/internal/model"
	"github.com/indiepalbien/app-finzas/internal/service"
)

// Default schedules.
const (
	DefaultRunSchedule    = "@hourly"
	DefaultRetireSchedule = "@daily"
	DefaultPeriodicCap    = 100
)

// Runner applies rules for every owner. engine.Coordinator implements it.
type Runner interface {
	RunForAllUsers(ctx context.Context, maxPerUser int) (map[int64]service.RunResult, error)
}

// Retirer prunes stale rules for every owner. engine.Maintainer implements it.
type Retirer interface {
	RetireStaleAll(ctx context.Context, criteria model.RetireCriteria) (map[int64]int64, error)
}

// SchedulerOptions configures a Scheduler. An empty RetireSchedule or a nil
// Retirer disables maintenance.
type SchedulerOptions struct {
	Location       *time.Location
	RunSchedule    string
	RetireSchedule string
	Criteria       model.RetireCriteria
	PeriodicCap    int
}

// Scheduler triggers periodic batch runs and rule maintenance. Failures are
// logged and the next tick tries again.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	retirer Retirer
	ctx     context.Context
	opts    SchedulerOptions
	mu      sync.Mutex
}

// NewScheduler registers the periodic jobs. It fails on an unparsable schedule.
func NewScheduler(runner Runner, retirer Retirer, opts SchedulerOptions) (*Scheduler, error) {
	if opts.RunSchedule == "" {
		opts.RunSchedule = DefaultRunSchedule
	}
	if opts.PeriodicCap < 0 {
		opts.PeriodicCap = 0
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	s := &Scheduler{
		runner:  runner,
		retirer: retirer,
		opts:    opts,
		ctx:     context.Background(),
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}

	if _, err := s.cron.AddFunc(opts.RunSchedule, func() { s.RunPeriodic(s.context()) }); err != nil {
		return nil, fmt.Errorf("invalid run schedule %q: %w", opts.RunSchedule, err)
	}

	if retirer != nil && opts.RetireSchedule != "" {
		if _, err := s.cron.AddFunc(opts.RetireSchedule, func() { s.RetireStale(s.context()) }); err != nil {
			return nil, fmt.Errorf("invalid retire schedule %q: %w", opts.RetireSchedule, err)
		}
	}

	return s, nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Start begins firing jobs. Their context derives from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	slog.Info("Scheduler started",
		"run_schedule", s.opts.RunSchedule,
		"retire_schedule", s.opts.RetireSchedule,
		"periodic_cap", s.opts.PeriodicCap)
}

// Stop halts the schedule and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("Scheduler stopped")
}

// RunPeriodic runs one capped pass over every owner.
func (s *Scheduler) RunPeriodic(ctx context.Context) {
	start := time.Now()
	slog.Info("Starting periodic rule application", "max_per_user", s.opts.PeriodicCap)

	results, err := s.runner.RunForAllUsers(ctx, s.opts.PeriodicCap)
	if err != nil {
		slog.Error("Periodic rule application failed", "error", err)
	}

	var applied, errored int
	for _, res := range results {
		applied += res.Applied
		errored += res.Errored
	}

	slog.Info("Periodic rule application finished",
		"owners", len(results),
		"applied", applied,
		"errored", errored,
		"duration", time.Since(start))
}

// RetireStale runs rule maintenance for every owner.
func (s *Scheduler) RetireStale(ctx context.Context) {
	if s.retirer == nil {
		return
	}

	retired, err := s.retirer.RetireStaleAll(ctx, s.opts.Criteria)
	if err != nil {
		slog.Error("Rule maintenance failed", "error", err)
	}

	var total int64
	for _, n := range retired {
		total += n
	}
	slog.Info("Rule maintenance finished", "owners", len(retired), "retired", total)
}
