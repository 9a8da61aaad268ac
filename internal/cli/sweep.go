package cli

import (
	"fmt"

	"github.com/fmueller/voxhub/internal/workspace"
	"github.com/spf13/cobra"
)

func newSweepCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove session workspaces idle longer than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := workspace.NewReaper(app.log()).Sweep(app.cfg.Root, app.cfg.Retention)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale workspace(s) from %s\n", removed, app.cfg.Root)
			return err
		},
	}
}
