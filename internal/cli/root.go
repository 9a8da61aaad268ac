package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fmueller/voxhub/internal/config"
	"github.com/fmueller/voxhub/internal/logging"
	"github.com/fmueller/voxhub/internal/platform"
	"github.com/fmueller/voxhub/internal/transcribe"
	"github.com/fmueller/voxhub/internal/version"
	"github.com/fmueller/voxhub/internal/whisper"
	"github.com/fmueller/voxhub/internal/workspace"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type appState struct {
	verbose    bool
	jsonLogs   bool
	noProgress bool
	configFile string
	envFile    string

	cfg    config.Config
	logger *zap.Logger

	// newLoader builds the model loader; tests swap in fakes.
	newLoader func(cfg config.Config, logger *zap.Logger) transcribe.ModelLoader
	// preflightFn checks that the engine and default model are usable before serving.
	preflightFn func(ctx context.Context) error
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&appState{})
}

func newRootCmd(app *appState) *cobra.Command {
	if app.newLoader == nil {
		app.newLoader = app.defaultLoader
	}
	if app.preflightFn == nil {
		app.preflightFn = app.ensureTranscriptionReady
	}

	cmd := &cobra.Command{
		Use:           "voxhub",
		Short:         "Session-scoped speech transcription server with a bundled whisper engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{Verbose: app.verbose, JSON: app.jsonLogs})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger

			cfg, err := config.Load(config.LoadOptions{
				ConfigFile: app.configFile,
				EnvFile:    app.envFile,
				Flags:      cmd.Flags(),
			})
			if err != nil {
				return err
			}
			app.cfg = cfg
			return nil
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindGlobalFlags(cmd, app)
	bindWorkspaceFlags(cmd)
	bindModelFlags(cmd)
	bindTranscriptionFlags(cmd)

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSweepCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindGlobalFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.BoolVar(&app.verbose, "verbose", false, "Enable verbose logs")
	flags.BoolVar(&app.jsonLogs, "json", false, "Enable JSON logging")
	flags.BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")
	flags.StringVar(&app.configFile, "config", "", "YAML config file")
	flags.StringVar(&app.envFile, "env-file", ".env", "Env file with VOXHUB_* variables; ignored when missing")
}

func bindWorkspaceFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("root", platform.DefaultWorkspaceRoot(), "Directory holding the session workspaces")
	flags.Duration("retention", workspace.DefaultRetention, "Idle time after which a session workspace is removed")
}

func bindModelFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("model", "small", "Model name or model file path")
	flags.String("model-dir", "", "Directory where models are stored")
	flags.Bool("auto-download", true, "Automatically download missing models")
}

func bindTranscriptionFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("language", "auto", "Language code (auto|en|de|...) for transcription")
	flags.Bool("silence-gate", true, "Detect near-silent WAV audio and skip transcription")
	flags.Float64("silence-threshold-dbfs", -65, "Silence gate threshold in dBFS")
	flags.Duration("timeout", 0, "Limit for each model load and transcription; 0 waits indefinitely")
	flags.Int("transcript-cache-size", 0, "Maximum cached transcripts; 0 keeps all for the process lifetime")
}

func (a *appState) defaultLoader(cfg config.Config, logger *zap.Logger) transcribe.ModelLoader {
	return whisper.NewLoader(whisper.LoaderOptions{
		ModelDir:     cfg.ModelDir,
		Language:     cfg.Language,
		AutoDownload: cfg.AutoDownload,
		NoProgress:   a.noProgress,
		Logger:       logger,
	})
}

// newService wires the workspace store, model loader and caches from the
// loaded configuration.
func (a *appState) newService() (*transcribe.Service, *workspace.Store, error) {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return nil, nil, err
	}
	cfg := a.cfg
	cfg.ModelDir = modelDir

	store, err := workspace.NewStore(cfg.Root, a.log())
	if err != nil {
		return nil, nil, err
	}

	svc := transcribe.NewService(store, a.newLoader(cfg, a.log()), transcribe.Options{
		DefaultModel:         cfg.Model,
		TranscriptCacheSize:  cfg.TranscriptCacheSize,
		SilenceGate:          cfg.SilenceGate,
		SilenceThresholdDBFS: cfg.SilenceThresholdDBFS,
		Timeout:              cfg.Timeout,
		Logger:               a.log(),
	})
	return svc, store, nil
}

func (a *appState) ensureTranscriptionReady(ctx context.Context) error {
	if _, err := whisper.NewBundledEngine(a.log()); err != nil {
		return err
	}

	modelDir, err := a.modelStorageDir()
	if err != nil {
		return err
	}
	loader := whisper.NewLoader(whisper.LoaderOptions{
		ModelDir:     modelDir,
		AutoDownload: a.cfg.AutoDownload,
		NoProgress:   a.noProgress,
		Logger:       a.log(),
	})
	_, err = loader.Ensure(ctx, a.cfg.Model)
	return err
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.cfg.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

// progressWriter is stderr when progress output is wanted, nil otherwise.
func (a *appState) progressWriter() io.Writer {
	if a.noProgress || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return os.Stderr
}
