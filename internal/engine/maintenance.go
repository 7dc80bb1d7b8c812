package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/indiepalbien/app-finzas/internal/model"
	"github.com/indiepalbien/app-finzas/internal/service"
)

// DefaultRetireCriteria flags rules older than 90 days, used once and mostly wrong.
func DefaultRetireCriteria() model.RetireCriteria {
	return model.RetireCriteria{
		MinAge:      90 * 24 * time.Hour,
		MaxUsage:    2,
		MinAccuracy: 0.5,
	}
}

// Maintainer reports on and prunes rule sets. It never runs inline with matching.
type Maintainer struct {
	rules   service.RuleStore
	owners  service.OwnerStore
	metrics *Metrics
	now     func() time.Time
}

// NewMaintainer creates a maintainer.
func NewMaintainer(rules service.RuleStore, owners service.OwnerStore, metrics *Metrics) *Maintainer {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Maintainer{rules: rules, owners: owners, metrics: metrics, now: time.Now}
}

// GetStats aggregates the owner's rules.
func (m *Maintainer) GetStats(ctx context.Context, ownerID int64) (model.RuleStats, error) {
	stats, err := m.rules.RuleStats(ctx, ownerID)
	if err != nil {
		return model.RuleStats{}, fmt.Errorf("failed to get rule stats for owner %d: %w", ownerID, err)
	}
	return stats, nil
}

// RetireStale flags the owner's rules that meet every bound of criteria and
// returns how many were flagged.
func (m *Maintainer) RetireStale(ctx context.Context, ownerID int64, criteria model.RetireCriteria) (int64, error) {
	n, err := m.rules.RetireRules(ctx, ownerID, criteria, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to retire rules for owner %d: %w", ownerID, err)
	}
	if n > 0 {
		m.metrics.retired.Add(float64(n))
		slog.Info("Retired stale rules", "owner_id", ownerID, "count", n)
	}
	return n, nil
}

// RetireStaleAll runs RetireStale for every owner, continuing past failures.
// The first failure is returned after all owners were visited.
func (m *Maintainer) RetireStaleAll(ctx context.Context, criteria model.RetireCriteria) (map[int64]int64, error) {
	ids, err := m.owners.ListOwnerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}

	retired := make(map[int64]int64, len(ids))
	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return retired, err
		}
		n, err := m.RetireStale(ctx, id, criteria)
		if err != nil {
			slog.Error("Rule maintenance failed", "owner_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		retired[id] = n
	}

	return retired, firstErr
}
