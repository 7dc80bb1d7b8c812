package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/config"
	"github.com/indiepalbien/app-finzas/internal/dispatch"
	"github.com/indiepalbien/app-finzas/internal/engine"
	"github.com/indiepalbien/app-finzas/internal/model"
	"github.com/indiepalbien/app-finzas/internal/pattern"
	"github.com/indiepalbien/app-finzas/internal/storage"
)

// initStorage opens the configured database and brings its schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// app holds the rule engine wired over one database.
type app struct {
	store       *storage.SQLiteStorage
	registry    *prometheus.Registry
	tokenizer   pattern.Tokenizer
	coordinator *engine.Coordinator
	learner     *engine.Learner
	maintainer  *engine.Maintainer
	queue       *dispatch.Queue
}

// newApp builds the engine from cfg. The returned cleanup stops the queue and
// closes the database.
func newApp(ctx context.Context, opts engine.CoordinatorOptions) (*app, func(), error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(registry)

	tokenizer, err := pattern.NewCachedNormalizer(pattern.NewNormalizer(pattern.NormalizerOptions{
		Stopwords:        cfg.Rules.Stopwords,
		MinTokenLength:   cfg.Rules.MinTokenLength,
		ReplaceStopwords: cfg.Rules.ReplaceStopwords,
	}), cfg.Rules.CacheSize)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	matchOpts, err := matcherOptions(cfg.Rules)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	matcher := pattern.NewMatcher(store, tokenizer, matchOpts)
	applier := engine.NewApplier(matcher, store, store)

	opts.Metrics = metrics
	if opts.Workers == 0 {
		opts.Workers = cfg.Batch.Workers
	}
	coordinator := engine.NewCoordinator(applier, store, store, opts)

	queue := dispatch.NewQueue(coordinator, dispatch.QueueOptions{
		Registerer: registry,
		Workers:    cfg.Dispatch.Workers,
		QueueSize:  cfg.Dispatch.QueueSize,
		Rate:       cfg.Dispatch.Rate,
	})

	a := &app{
		store:       store,
		registry:    registry,
		tokenizer:   tokenizer,
		coordinator: coordinator,
		learner: engine.NewLearner(pattern.NewGenerator(tokenizer), store, store, queue, engine.LearnerOptions{
			Metrics:     metrics,
			LabelRunCap: cfg.Batch.LabelCap,
		}),
		maintainer: engine.NewMaintainer(store, store, metrics),
		queue:      queue,
	}

	cleanup := func() {
		queue.Stop()
		if cached, ok := tokenizer.(*pattern.CachedNormalizer); ok {
			cached.Close()
		}
		_ = store.Close()
	}

	return a, cleanup, nil
}

// matcherOptions converts the rules section of the configuration.
func matcherOptions(rules config.RulesConfig) (pattern.MatcherOptions, error) {
	tolerance, err := rules.Tolerance()
	if err != nil {
		return pattern.MatcherOptions{}, err
	}

	return pattern.MatcherOptions{
		Weights: map[model.Tier]float64{
			model.TierTokensOnly:           rules.Weights.TokensOnly,
			model.TierTokensCurrency:       rules.Weights.TokensCurrency,
			model.TierTokensAmount:         rules.Weights.TokensAmount,
			model.TierTokensAmountCurrency: rules.Weights.TokensAmountCurrency,
		},
		AmountTolerance: tolerance,
		MinScore:        rules.MinScore,
		MinAccuracy:     rules.MinAccuracy,
	}, nil
}

// retireCriteria returns the configured criteria.
func retireCriteria() model.RetireCriteria {
	return model.RetireCriteria{
		MinAge:      cfg.Maintenance.MinAge,
		MaxUsage:    cfg.Maintenance.MaxUsage,
		MinAccuracy: cfg.Maintenance.MinAccuracy,
	}
}

// resolveTarget looks up or creates the named category and payee.
func resolveTarget(ctx context.Context, store *storage.SQLiteStorage, ownerID int64, category, payee string) (model.Target, error) {
	var categoryID, payeeID *int64

	if name := strings.TrimSpace(category); name != "" {
		c, err := store.EnsureCategory(ctx, ownerID, name)
		if err != nil {
			return model.Target{}, fmt.Errorf("failed to resolve category %q: %w", name, err)
		}
		categoryID = &c.ID
	}

	if name := strings.TrimSpace(payee); name != "" {
		p, err := store.EnsurePayee(ctx, ownerID, name)
		if err != nil {
			return model.Target{}, fmt.Errorf("failed to resolve payee %q: %w", name, err)
		}
		payeeID = &p.ID
	}

	target, err := model.NewTarget(categoryID, payeeID)
	if err != nil {
		return model.Target{}, common.NewUserError("pass --category, --payee or both", err)
	}
	return target, nil
}

// parseAmount accepts a decimal amount. An empty string is zero.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, common.NewUserError(fmt.Sprintf("invalid amount %q", s), err)
	}
	return d, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339. An empty string is today.
func parseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UTC().Truncate(24 * time.Hour), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, common.NewUserError(fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s), err)
	}
	return t, nil
}

// requireOwner reads the --owner flag.
func requireOwner(owner int64) error {
	if owner <= 0 {
		return common.NewUserError("--owner is required", fmt.Errorf("owner %d", owner))
	}
	return nil
}

// truncateString shortens s to maxLen runes, never splitting a character.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
