package cli

import (
	"fmt"

	"github.com/fmueller/voxhub/internal/whisper"
	"github.com/spf13/cobra"
)

func newSetupCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Download and verify the configured speech model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			modelDir, err := app.modelStorageDir()
			if err != nil {
				return err
			}

			loader := whisper.NewLoader(whisper.LoaderOptions{
				ModelDir:   modelDir,
				NoProgress: app.noProgress,
				Logger:     app.log(),
			})
			model, installed, err := loader.Install(cmd.Context(), app.cfg.Model)
			if err != nil {
				return err
			}

			if installed {
				fmt.Fprintf(cmd.OutOrStdout(), "Model %s installed at %s\n", model.Name, model.Path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Model %s already present at %s\n", model.Name, model.Path)
			}
			return nil
		},
	}
}
