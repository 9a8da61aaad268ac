package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fmueller/voxhub/internal/server"
	"github.com/fmueller/voxhub/internal/whisper"
	"github.com/fmueller/voxhub/internal/workspace"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(app *appState) *cobra.Command {
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the transcription web API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !skipPreflight {
				if err := app.preflightFn(ctx); err != nil {
					return err
				}
			}

			models, err := offeredModels(app.cfg.AllowedModels)
			if err != nil {
				return err
			}

			svc, store, err := app.newService()
			if err != nil {
				return err
			}

			gate := workspace.NewSweepGate(workspace.NewReaper(app.log()), store.Root(), app.cfg.Retention, app.log())
			go gate.Run(ctx, app.cfg.Retention)

			if app.verbose {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			srv := server.New(svc, gate, server.Options{
				Addr:           app.cfg.Addr,
				MaxUploadBytes: app.cfg.MaxUploadBytes,
				RateLimit:      app.cfg.RateLimit,
				Models:         models,
				Logger:         app.log(),
			})

			app.log().Info("serving",
				zap.String("addr", app.cfg.Addr),
				zap.String("root", store.Root()),
				zap.Duration("retention", app.cfg.Retention),
				zap.String("model", app.cfg.Model),
				zap.Strings("allowed_models", models),
				zap.String("max_upload", app.cfg.MaxUpload()),
			)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().String("addr", "127.0.0.1:8501", "Listen address")
	cmd.Flags().String("max-upload", "25MB", "Maximum request body size, e.g. 25MB")
	cmd.Flags().Float64("rate-limit", 0, "Transcriptions per second across all sessions; 0 disables the limit")
	cmd.Flags().StringSlice("allowed-models", nil, "Registry model names clients may request besides --model, e.g. tiny,base")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start without checking the whisper engine and default model")
	return cmd
}

// offeredModels checks that every extra model clients may pick is a
// registry name. Paths are never offered to clients.
func offeredModels(names []string) ([]string, error) {
	for _, name := range names {
		if _, ok := whisper.LookupModel(name); !ok {
			return nil, fmt.Errorf("allowed model %q is not a known model (known models: %s)", name, strings.Join(whisper.ModelNames(), ", "))
		}
	}
	return names, nil
}
