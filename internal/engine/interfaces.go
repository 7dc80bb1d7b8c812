// Package engine applies learned categorization rules to transactions and
// learns new rules from human labels.
package engine

import (
	"context"

	"github.com/indiepalbien/app-finzas/internal/model"
	"github.com/indiepalbien/app-finzas/internal/service"
)

// RunResult summarizes one batch run for one owner.
type RunResult = service.RunResult

// TransactionApplier applies the best rule to a single transaction.
type TransactionApplier interface {
	ApplyBest(ctx context.Context, txn model.Transaction) (bool, error)
}

// Store is the persistence the engine needs.
type Store interface {
	service.TransactionStore
	service.RuleStore
	service.OwnerStore
}
