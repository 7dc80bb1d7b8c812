package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/model"
	"github.com/indiepalbien/app-finzas/internal/pattern"
	"github.com/indiepalbien/app-finzas/internal/service"
)

// DefaultLabelRunCap bounds the run dispatched after a label event.
const DefaultLabelRunCap = 50

// LearnResult reports what a label event produced.
type LearnResult struct {
	Rules      []model.CategorizationRule
	Created    int
	Merged     int
	Dispatched bool
	Missed     bool // A previously applied rule was contradicted
}

// LearnerOptions configures a Learner.
type LearnerOptions struct {
	Metrics     *Metrics
	LabelRunCap int
}

// Learner turns human labels into rules.
type Learner struct {
	generator   pattern.RuleGenerator
	txns        service.TransactionStore
	rules       service.RuleStore
	dispatcher  service.Dispatcher
	metrics     *Metrics
	labelRunCap int
}

// NewLearner creates a learner. The dispatcher may be nil, in which case no
// batch run follows a label.
func NewLearner(generator pattern.RuleGenerator, txns service.TransactionStore, rules service.RuleStore, dispatcher service.Dispatcher, opts LearnerOptions) *Learner {
	if opts.LabelRunCap <= 0 {
		opts.LabelRunCap = DefaultLabelRunCap
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Learner{
		generator:   generator,
		txns:        txns,
		rules:       rules,
		dispatcher:  dispatcher,
		metrics:     opts.Metrics,
		labelRunCap: opts.LabelRunCap,
	}
}

// Label records a human label on a transaction and learns from it. When the
// label replaces a field an engine rule had filled, that rule gets a miss.
// The label is stored first, so a failed label never charges a miss and a
// retried one cannot charge it twice.
func (l *Learner) Label(ctx context.Context, ownerID, txID int64, target model.Target) (LearnResult, error) {
	if target.IsZero() {
		return LearnResult{}, model.ErrEmptyTarget
	}

	prior, err := l.txns.GetTransaction(ctx, ownerID, txID)
	if err != nil {
		return LearnResult{}, err
	}

	if err := l.txns.SetLabel(ctx, ownerID, txID, target); err != nil {
		return LearnResult{}, fmt.Errorf("failed to label transaction %d: %w", txID, err)
	}

	missed := l.recordMisses(ctx, *prior, target)

	labeled, err := l.txns.GetTransaction(ctx, ownerID, txID)
	if err != nil {
		return LearnResult{}, err
	}

	res, err := l.Learn(ctx, *labeled)
	res.Missed = missed
	return res, err
}

// recordMisses charges a miss to each rule whose filled value prior held and
// target replaces. A rule that filled both fields is charged once. The label
// is already stored, so a failure only loses the miss and is logged.
func (l *Learner) recordMisses(ctx context.Context, prior model.Transaction, target model.Target) bool {
	var charged []int64
	charge := func(ruleID *int64, stored, human *int64) {
		if ruleID == nil || !overrides(stored, human) || slices.Contains(charged, *ruleID) {
			return
		}
		charged = append(charged, *ruleID)
	}
	charge(prior.CategoryRuleID, prior.CategoryID, target.CategoryID())
	charge(prior.PayeeRuleID, prior.PayeeID, target.PayeeID())

	missed := false
	for _, ruleID := range charged {
		err := l.rules.RecordMiss(ctx, prior.OwnerID, ruleID)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			slog.Warn("Failed to record rule miss",
				"owner_id", prior.OwnerID,
				"tx_id", prior.ID,
				"rule_id", ruleID,
				"error", err)
			continue
		}
		l.metrics.misses.Inc()
		missed = true

		slog.Info("Human label contradicted rule",
			"owner_id", prior.OwnerID,
			"tx_id", prior.ID,
			"rule_id", ruleID)
	}

	return missed
}

// overrides reports whether a human value replaces a different stored value.
func overrides(stored, human *int64) bool {
	return stored != nil && human != nil && *human != *stored
}

// Learn generates rules from a labeled transaction, merges them into the
// owner's rule set and dispatches a capped run over the owner's unresolved
// transactions. A description without usable tokens yields no rules and no error.
func (l *Learner) Learn(ctx context.Context, txn model.Transaction) (LearnResult, error) {
	var res LearnResult

	drafts, err := l.generator.Generate(txn)
	if errors.Is(err, common.ErrInsufficientSignal) {
		slog.Debug("Nothing to learn from description", "tx_id", txn.ID, "description", txn.Description)
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to generate rules: %w", err)
	}

	for _, draft := range drafts {
		merged, err := l.rules.MergeRule(ctx, draft)
		if err != nil {
			return res, fmt.Errorf("failed to store %s rule: %w", draft.Tier, err)
		}
		if merged.Created {
			res.Created++
		} else {
			res.Merged++
		}
		res.Rules = append(res.Rules, merged.Rule)
		l.metrics.ruleLearned(merged.Created, string(draft.Tier))
	}

	slog.Info("Learned rules from label",
		"owner_id", txn.OwnerID,
		"tx_id", txn.ID,
		"created", res.Created,
		"merged", res.Merged)

	if l.dispatcher == nil {
		return res, nil
	}

	job := service.Job{OwnerID: txn.OwnerID, Max: l.labelRunCap, Reason: "label"}
	if err := l.dispatcher.Dispatch(ctx, job); err != nil {
		// The rules are stored; the periodic pass will pick the transactions up.
		slog.Warn("Failed to dispatch batch run", "owner_id", txn.OwnerID, "error", err)
		return res, nil
	}
	res.Dispatched = true

	return res, nil
}
