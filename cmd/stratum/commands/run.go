package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratumhq/stratum/pkg/core"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [command] [args...]",
		Short: "resolve and execute a Command plugin",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := newBasis(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			task := &core.Task{
				Component:   core.ComponentRef{Name: args[0]},
				CommandName: strings.Join(args, " "),
				CLIArgs:     core.CLIArgs(args),
			}
			if err := b.Run(ctx, task); err != nil {
				return fmt.Errorf("run %q: %w", args[0], err)
			}
			return nil
		},
	}
	return cmd
}
