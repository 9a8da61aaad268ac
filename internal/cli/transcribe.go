package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fmueller/voxhub/internal/transcribe"
	"github.com/fmueller/voxhub/internal/workspace"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var (
		keep   bool
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.transcribeFile(cmd.Context(), args[0], keep)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.Text)
			if transcribe.IsBlank(result.Text) {
				app.log().Warn(transcribe.NoSpeechHint())
			}

			if outDir != "" {
				target := filepath.Join(outDir, result.DownloadName)
				if err := os.WriteFile(target, []byte(result.Text+"\n"), 0o644); err != nil {
					return fmt.Errorf("write transcript: %w", err)
				}
				app.log().Info("transcript saved", zap.String("path", target))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the session workspace instead of removing it after transcription")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Also write the transcript as <name>.txt into this directory")
	return cmd
}

// transcribeFile runs one file through a fresh session, the same path an
// upload through the server takes.
func (a *appState) transcribeFile(ctx context.Context, audioPath string, keep bool) (transcribe.Result, error) {
	audioPath = filepath.Clean(audioPath)
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("audio file not found: %w", err)
	}

	svc, store, err := a.newService()
	if err != nil {
		return transcribe.Result{}, err
	}

	session := workspace.NewSessionID()
	a.log().Info("transcribing...", zap.String("audio", audioPath), zap.String("model", a.cfg.Model), zap.String("language", a.cfg.Language))
	spin := startSpinner(a.progressWriter(), "Transcribing")
	result, err := svc.TranscribeForSession(ctx, transcribe.Request{
		SessionID: session,
		FileName:  filepath.Base(audioPath),
		Audio:     data,
		Model:     a.cfg.Model,
	})
	spin.Stop()

	if !keep {
		a.removeWorkspace(filepath.Join(store.Root(), session))
	}
	if err != nil {
		return transcribe.Result{}, err
	}
	return result, nil
}

func (a *appState) removeWorkspace(dir string) {
	if !workspace.IsWorkspaceName(filepath.Base(dir)) {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		a.log().Warn("failed to remove workspace", zap.String("path", dir), zap.Error(err))
	}
}
