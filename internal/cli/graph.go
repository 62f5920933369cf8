package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/taskgrid/internal/app"
)

func newGraphCommand(root *rootOptions, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "graph TARGET...",
		Short: "Print the action graph of targets in DOT format",
		Args:  targetArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, _ := splitAtDash(cmd, args)
			a, err := root.newApp(cmd.Context(), io.Discard)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.WriteGraph(cmd.Context(), app.RunOptions{Targets: targets}, outW); err != nil {
				return failure(err)
			}
			return nil
		},
	}
}
