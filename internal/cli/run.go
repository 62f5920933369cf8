package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/taskgrid/internal/app"
)

func newRunCommand(root *rootOptions, outW io.Writer) *cobra.Command {
	var env []string
	cmd := &cobra.Command{
		Use:   "run TARGET... [-- ARGS...]",
		Short: "Run tasks and everything they depend on",
		Long: `Run the given targets. A target is "project:task", ":task" for every
project, "#tag:task" for tagged projects. Arguments after "--" are passed
to the requested tasks only.`,
		Args: targetArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, passthrough := splitAtDash(cmd, args)
			a, err := root.newApp(cmd.Context(), outW)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.Run(cmd.Context(), app.RunOptions{Targets: targets, Args: passthrough, Env: env})
			if err != nil {
				return failure(err)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "Extra KEY=VALUE environment for the requested tasks.")
	return cmd
}
