package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/engine"
)

// engineOptions returns the coordinator options taken from the configuration.
func engineOptions() engine.CoordinatorOptions {
	return engine.CoordinatorOptions{Workers: cfg.Batch.Workers}
}

func applyCmd() *cobra.Command {
	var (
		owner int64
		all   bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply learned rules to unresolved transactions",
		Long: `Run the batch coordinator over unresolved transactions, newest first.
Only empty category and payee fields are filled; existing labels are never
overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all == (owner > 0) {
				return common.NewUserError("pass exactly one of --owner or --all", nil)
			}
			if !cmd.Flags().Changed("max") {
				limit = cfg.Batch.LabelCap
				if all {
					limit = cfg.Batch.PeriodicCap
				}
			}

			ctx := cmd.Context()
			opts := engineOptions()

			var bar *progressbar.ProgressBar
			if all {
				// bar is created once the owner count is known, before any run.
				opts.OnOwnerDone = func(int64, engine.RunResult) {
					if err := bar.Add(1); err != nil {
						slog.Warn("Failed to update progress bar", "error", err)
					}
				}
			}

			a, cleanup, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if !all {
				res, err := a.coordinator.RunForUser(ctx, owner, limit)
				printRunResults(map[int64]engine.RunResult{owner: res})
				return err
			}

			ids, err := a.store.ListOwnerIDs(ctx)
			if err != nil {
				return err
			}
			bar = newOwnerBar(len(ids))

			results, err := a.coordinator.RunForAllUsers(ctx, limit)
			_ = bar.Finish()
			printRunResults(results)
			return err
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	cmd.Flags().BoolVar(&all, "all", false, "Run for every owner")
	cmd.Flags().IntVar(&limit, "max", 50, "Maximum transactions per owner, 0 for all")

	return cmd
}

func newOwnerBar(owners int) *progressbar.ProgressBar {
	return progressbar.NewOptions(owners,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Applying rules...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(os.Stderr)
		}),
	)
}

func printRunResults(results map[int64]engine.RunResult) {
	owners := make([]int64, 0, len(results))
	for id := range results {
		owners = append(owners, id)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "OWNER\tPROCESSED\tAPPLIED\tSKIPPED\tERRORED\tSTATUS")
	for _, id := range owners {
		res := results[id]
		status := "ok"
		if res.Err != nil {
			status = res.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%s\n",
			id, res.Processed, res.Applied, res.Skipped, res.Errored, status)
	}
	_ = w.Flush()
}
