package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/indiepalbien/app-finzas/internal/model"
)

func txCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tx",
		Aliases: []string{"transactions"},
		Short:   "Add, label and inspect transactions",
	}

	cmd.AddCommand(txAddCmd())
	cmd.AddCommand(txLabelCmd())
	cmd.AddCommand(txPendingCmd())

	return cmd
}

func txAddCmd() *cobra.Command {
	var (
		owner       int64
		description string
		amount      string
		currency    string
		date        string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(owner); err != nil {
				return err
			}
			amt, err := parseAmount(amount)
			if err != nil {
				return err
			}
			when, err := parseDate(date, time.Now())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			txn := model.Transaction{
				OwnerID:     owner,
				Description: description,
				Amount:      amt,
				Currency:    currency,
				Date:        when,
			}
			if err := store.CreateTransaction(ctx, &txn); err != nil {
				return fmt.Errorf("failed to create transaction: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), txn.ID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Raw transaction description")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount, e.g. 5.50")
	cmd.Flags().StringVarP(&currency, "currency", "c", "", "ISO 4217 currency code")
	cmd.Flags().StringVar(&date, "date", "", "Transaction date, YYYY-MM-DD (default: today)")
	_ = cmd.MarkFlagRequired("description")

	return cmd
}

func txLabelCmd() *cobra.Command {
	var (
		owner    int64
		txID     int64
		category string
		payee    string
		wait     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "label",
		Short: "Label a transaction and learn rules from it",
		Long: `Set the category and/or payee of a transaction. The label is stored, rules
are learned from it and a capped batch run fills similar unlabeled
transactions of the same owner.`,
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

			target, err := resolveTarget(ctx, a.store, owner, category, payee)
			if err != nil {
				return err
			}

			a.queue.Start(ctx)

			res, err := a.learner.Label(ctx, owner, txID, target)
			if err != nil {
				return fmt.Errorf("failed to label transaction %d: %w", txID, err)
			}

			slog.Info("Transaction labeled",
				"tx_id", txID,
				"rules_created", res.Created,
				"rules_merged", res.Merged,
				"missed", res.Missed)

			if !res.Dispatched {
				return nil
			}

			drainCtx, cancel := context.WithTimeout(ctx, wait)
			defer cancel()
			if err := a.queue.Drain(drainCtx); err != nil {
				slog.Warn("Batch run still in progress", "error", err)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	cmd.Flags().Int64Var(&txID, "tx", 0, "Transaction id")
	cmd.Flags().StringVar(&category, "category", "", "Category name")
	cmd.Flags().StringVar(&payee, "payee", "", "Payee name")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "How long to wait for the follow-up batch run")
	_ = cmd.MarkFlagRequired("tx")

	return cmd
}

func txPendingCmd() *cobra.Command {
	var (
		owner int64
		limit int
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List transactions missing a category or payee, newest first",
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

			txns, err := store.ListUnresolved(ctx, owner, limit)
			if err != nil {
				return err
			}
			if len(txns) == 0 {
				slog.Info("No unresolved transactions", "owner_id", owner)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tDATE\tDESCRIPTION\tAMOUNT\tCURRENCY\tCATEGORY\tPAYEE")
			for _, txn := range txns {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					txn.ID,
					txn.Date.Format("2006-01-02"),
					truncateString(txn.Description, 40),
					txn.Amount.StringFixed(2),
					txn.Currency,
					formatID(txn.CategoryID),
					formatID(txn.PayeeID))
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows, 0 for all")

	return cmd
}

func formatID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprint(*id)
}
