package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/indiepalbien/app-finzas/internal/model"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"rule"},
		Short:   "Inspect and maintain learned rules",
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesStatsCmd())
	cmd.AddCommand(rulesRetireCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	var (
		owner   int64
		retired bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's rules, most used first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(owner); err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rules, err := store.ListRules(ctx, owner, retired)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}
			if len(rules) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No rules learned yet")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tPATTERN\tTIER\tCATEGORY\tPAYEE\tUSAGE\tACCURACY\tSTATUS")
			for i := range rules {
				r := &rules[i]
				status := "active"
				if !r.Active() {
					status = "retired"
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%.0f%%\t%s\n",
					r.ID,
					truncateString(r.String(), 48),
					r.Tier,
					formatID(r.Target.CategoryID()),
					formatID(r.Target.PayeeID()),
					r.UsageCount,
					r.Accuracy()*100,
					status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	cmd.Flags().BoolVar(&retired, "retired", false, "Include retired rules")

	return cmd
}

func rulesStatsCmd() *cobra.Command {
	var owner int64

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize an owner's rule set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(owner); err != nil {
				return err
			}

			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx, engineOptions())
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := a.maintainer.GetStats(ctx, owner)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "Active rules\t%d\n", stats.TotalRules)
			_, _ = fmt.Fprintf(w, "Retired rules\t%d\n", stats.RetiredRules)
			_, _ = fmt.Fprintf(w, "Applications\t%d\n", stats.TotalApplications)
			_, _ = fmt.Fprintf(w, "Average accuracy\t%.1f%%\n", stats.AvgAccuracy*100)
			for _, tier := range model.Tiers {
				_, _ = fmt.Fprintf(w, "  %s\t%d\n", tier, stats.ByTier[tier])
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")

	return cmd
}

func rulesRetireCmd() *cobra.Command {
	var (
		owner    int64
		criteria model.RetireCriteria
	)

	cmd := &cobra.Command{
		Use:   "retire",
		Short: "Retire old, rarely used and inaccurate rules",
		Long: `Flag rules that are older than --min-age, were used fewer than --max-usage
times and are less accurate than --min-accuracy. Retired rules stop matching;
learning the same rule again revives it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(owner); err != nil {
				return err
			}

			defaults := retireCriteria()
			flags := cmd.Flags()
			if !flags.Changed("min-age") {
				criteria.MinAge = defaults.MinAge
			}
			if !flags.Changed("max-usage") {
				criteria.MaxUsage = defaults.MaxUsage
			}
			if !flags.Changed("min-accuracy") {
				criteria.MinAccuracy = defaults.MinAccuracy
			}

			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx, engineOptions())
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := a.maintainer.RetireStale(ctx, owner, criteria)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Retired %d rules\n", n)
			return nil
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	cmd.Flags().DurationVar(&criteria.MinAge, "min-age", 0, "Minimum rule age (default from config)")
	cmd.Flags().Int64Var(&criteria.MaxUsage, "max-usage", 0, "Usage count below which a rule is stale (default from config)")
	cmd.Flags().Float64Var(&criteria.MinAccuracy, "min-accuracy", 0, "Accuracy below which a rule is stale (default from config)")

	return cmd
}
