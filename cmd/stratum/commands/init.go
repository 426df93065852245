package commands

import (
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "enumerate every registered Command plugin's command tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := newBasis(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			records, err := b.Init(ctx)
			if err != nil {
				return err
			}
			printCommandTree(records)
			return nil
		},
	}
}
