package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/service"
)

// DefaultWorkers is the number of owners processed at once by RunForAllUsers.
const DefaultWorkers = 4

// CoordinatorOptions configures batch runs.
type CoordinatorOptions struct {
	OnOwnerDone func(ownerID int64, res RunResult) // Called once per owner by RunForAllUsers
	Metrics     *Metrics
	Workers     int
}

// Coordinator runs the applier over owners' unresolved transactions.
type Coordinator struct {
	applier     TransactionApplier
	txns        service.TransactionStore
	owners      service.OwnerStore
	metrics     *Metrics
	onOwnerDone func(int64, RunResult)
	workers     int
}

// NewCoordinator creates a batch coordinator.
func NewCoordinator(applier TransactionApplier, txns service.TransactionStore, owners service.OwnerStore, opts CoordinatorOptions) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Coordinator{
		applier:     applier,
		txns:        txns,
		owners:      owners,
		metrics:     opts.Metrics,
		onOwnerDone: opts.OnOwnerDone,
		workers:     opts.Workers,
	}
}

// RunForUser applies rules to at most maxTransactions of the owner's
// unresolved transactions, newest first. A cap of zero or less processes all
// of them. Failures on single transactions are collected in the result and
// the run goes on; an ownership violation or a canceled context stops it.
func (c *Coordinator) RunForUser(ctx context.Context, ownerID int64, maxTransactions int) (RunResult, error) {
	start := time.Now()
	res := RunResult{Owner: ownerID}

	txns, err := c.txns.ListUnresolved(ctx, ownerID, maxTransactions)
	if err != nil {
		res.Err = fmt.Errorf("failed to list unresolved transactions: %w", err)
		return res, res.Err
	}

	for _, txn := range txns {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		if txn.OwnerID != ownerID {
			res.Err = common.OwnerMismatchError(ownerID, txn.OwnerID, fmt.Sprintf("transaction %d", txn.ID))
			break
		}

		res.Processed++
		applied, err := c.applier.ApplyBest(ctx, txn)
		if err != nil && common.IsFatal(err) {
			res.Err = err
			break
		}

		// Every processed transaction lands in exactly one bucket. A fill
		// whose usage count failed is still applied.
		switch {
		case applied:
			res.Applied++
			if err != nil {
				slog.Warn("Applied rule without counting its usage",
					"owner_id", ownerID,
					"tx_id", txn.ID,
					"error", err)
			}
		case err != nil:
			res.Errored++
			res.Errors = append(res.Errors, err)
			slog.Warn("Failed to apply rules to transaction",
				"owner_id", ownerID,
				"tx_id", txn.ID,
				"error", err)
		default:
			res.Skipped++
		}
	}

	c.metrics.observeRun(res, time.Since(start).Seconds())

	slog.Info("Batch run complete",
		"owner_id", ownerID,
		"processed", res.Processed,
		"applied", res.Applied,
		"skipped", res.Skipped,
		"errored", res.Errored,
		"duration", time.Since(start))

	return res, res.Err
}

// RunForAllUsers runs RunForUser for every owner in id order, several owners
// at a time. One owner's failure is recorded in its result and does not stop
// the others, except for an ownership violation or cancellation.
func (c *Coordinator) RunForAllUsers(ctx context.Context, maxPerUser int) (map[int64]RunResult, error) {
	ids, err := c.owners.ListOwnerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}

	results := make(map[int64]RunResult, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, id := range ids {
		g.Go(func() error {
			res, err := c.RunForUser(gctx, id, maxPerUser)

			mu.Lock()
			results[id] = res
			if c.onOwnerDone != nil {
				c.onOwnerDone(id, res)
			}
			mu.Unlock()

			if err == nil {
				return nil
			}
			if common.IsFatal(err) || gctx.Err() != nil {
				return err
			}
			slog.Error("Owner run failed", "owner_id", id, "error", err)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	return results, nil
}

// Handle runs a dispatched job.
func (c *Coordinator) Handle(ctx context.Context, job service.Job) error {
	res, err := c.RunForUser(ctx, job.OwnerID, job.Max)
	if err != nil {
		return fmt.Errorf("job %s for owner %d: %w", job.ID, job.OwnerID, err)
	}
	slog.Debug("Job finished",
		"job_id", job.ID,
		"reason", job.Reason,
		"owner_id", job.OwnerID,
		"applied", res.Applied)
	return nil
}
