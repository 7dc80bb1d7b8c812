// Package service defines the interfaces between the rule engine and its collaborators.
package service

import (
	"context"
	"time"

	"github.com/indiepalbien/app-finzas/internal/model"
)

// TransactionStore persists transactions. Every call is scoped to one owner.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, ownerID, txID int64) (*model.Transaction, error)
	// ListUnresolved returns transactions missing a category or a payee, newest
	// first. A limit of zero or less returns all of them.
	ListUnresolved(ctx context.Context, ownerID int64, limit int) ([]model.Transaction, error)
	// FillTransaction writes each target field only where the stored value is
	// still null and reports which fields it wrote.
	FillTransaction(ctx context.Context, ownerID, txID int64, target model.Target, ruleID int64) (model.FillResult, error)
	// SetLabel stores a human label, overwriting the fields the target carries.
	SetLabel(ctx context.Context, ownerID, txID int64, target model.Target) error
}

// RuleStore persists categorization rules. Counters are updated atomically in storage.
type RuleStore interface {
	// MergeRule inserts the draft or, when an equal rule exists, bumps its usage.
	MergeRule(ctx context.Context, draft model.RuleDraft) (model.MergeResult, error)
	CandidateRules(ctx context.Context, ownerID int64, tokens []string) ([]model.CategorizationRule, error)
	ListRules(ctx context.Context, ownerID int64, includeRetired bool) ([]model.CategorizationRule, error)
	GetRule(ctx context.Context, ownerID, ruleID int64) (*model.CategorizationRule, error)
	IncrementUsage(ctx context.Context, ownerID, ruleID int64) error
	RecordMiss(ctx context.Context, ownerID, ruleID int64) error
	RuleStats(ctx context.Context, ownerID int64) (model.RuleStats, error)
	RetireRules(ctx context.Context, ownerID int64, criteria model.RetireCriteria, now time.Time) (int64, error)
}

// OwnerStore enumerates owners.
type OwnerStore interface {
	CreateOwner(ctx context.Context, name string) (*model.Owner, error)
	ListOwnerIDs(ctx context.Context) ([]int64, error)
}

// ReferenceStore resolves owner-scoped categories and payees by name.
type ReferenceStore interface {
	EnsureCategory(ctx context.Context, ownerID int64, name string) (*model.Category, error)
	EnsurePayee(ctx context.Context, ownerID int64, name string) (*model.Payee, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	TransactionStore
	RuleStore
	OwnerStore
	ReferenceStore

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// Job asks for one batch run over an owner's unresolved transactions.
type Job struct {
	ID      string
	Reason  string // "label", "periodic", "manual"
	OwnerID int64
	Max     int
}

// Dispatcher hands jobs to background workers. The engine calls it and never implements it.
type Dispatcher interface {
	// Dispatch enqueues job and returns without waiting for it to run.
	Dispatch(ctx context.Context, job Job) error
}

// RunResult summarizes one batch run for one owner.
type RunResult struct {
	Err       error // Set when the run stopped early
	Errors    []error
	Owner     int64
	Processed int
	Applied   int
	Skipped   int
	Errored   int
}
