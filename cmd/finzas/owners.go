package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func ownersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "owners",
		Aliases: []string{"owner"},
		Short:   "Manage owners",
		Long:    `Owners isolate rule sets: rules learned for one owner never touch another owner's transactions.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME",
		Short: "Create an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			owner, err := store.CreateOwner(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to create owner: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", owner.ID, owner.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List owner ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ids, err := store.ListOwnerIDs(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})

	return cmd
}
