package cli

import (
	"fmt"
	"runtime"

	"github.com/fmueller/voxhub/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var showBuild bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the voxhub version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "voxhub v%s\n", version.Resolve())
			if showBuild {
				fmt.Fprintf(out, "go: %s\nplatform: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showBuild, "build", "b", false, "Also print the Go toolchain and platform")
	return cmd
}
