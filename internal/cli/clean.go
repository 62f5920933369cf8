package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/taskgrid/internal/cache"
)

func newCleanCommand(root *rootOptions, outW io.Writer) *cobra.Command {
	var lifetime string
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove cached archives and manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := cache.ParseLifetime(lifetime)
			if err != nil {
				return usageError(err)
			}
			a, err := root.newApp(cmd.Context(), outW)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Clean(cmd.Context(), d)
			if err != nil {
				return failure(err)
			}
			fmt.Fprintf(outW, "Removed %d cache files (%d bytes)\n", stats.Files, stats.Bytes)
			return nil
		},
	}
	cmd.Flags().StringVar(&lifetime, "lifetime", "7 days", `Keep entries younger than this, e.g. "7 days" or "12h". Empty removes everything.`)
	return cmd
}
