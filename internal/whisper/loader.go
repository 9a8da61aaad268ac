package whisper

import (
	"context"
	"fmt"

	"github.com/fmueller/voxhub/internal/download"
	"go.uber.org/zap"
)

// Model is a loaded, shareable model handle. It is safe for concurrent use.
type Model struct {
	Name     string
	Path     string
	Language string

	engine Engine
}

// ID identifies the model in cache keys: the registry name, or the file
// path for custom models.
func (m *Model) ID() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Path
}

func (m *Model) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return m.engine.Transcribe(ctx, TranscriptionRequest{
		AudioPath: audioPath,
		ModelPath: m.Path,
		Language:  m.Language,
	})
}

// NewModel wraps an engine as a model handle; used by callers that bring
// their own engine.
func NewModel(name, path, language string, engine Engine) *Model {
	return &Model{Name: name, Path: path, Language: language, engine: engine}
}

type LoaderOptions struct {
	ModelDir     string
	Language     string
	AutoDownload bool
	NoProgress   bool
	Logger       *zap.Logger

	// NewEngine defaults to NewBundledEngine.
	NewEngine func(*zap.Logger) (Engine, error)
	// Download defaults to download.DownloadFile.
	Download func(context.Context, download.Options) error
}

// Loader resolves a model reference, fetches missing named models and
// binds them to a transcription engine.
type Loader struct {
	opts LoaderOptions
}

func NewLoader(opts LoaderOptions) *Loader {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewEngine == nil {
		opts.NewEngine = func(logger *zap.Logger) (Engine, error) {
			return NewBundledEngine(logger)
		}
	}
	if opts.Download == nil {
		opts.Download = download.DownloadFile
	}
	return &Loader{opts: opts}
}

func (l *Loader) Load(ctx context.Context, ref string) (*Model, error) {
	resolved, err := l.Ensure(ctx, ref)
	if err != nil {
		return nil, err
	}

	engine, err := l.opts.NewEngine(l.opts.Logger)
	if err != nil {
		return nil, err
	}

	l.opts.Logger.Info("model loaded", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
	return NewModel(resolved.Name, resolved.Path, l.opts.Language, engine), nil
}

// Ensure resolves ref and downloads the model file if it is missing and
// auto download is enabled.
func (l *Loader) Ensure(ctx context.Context, ref string) (ResolvedModel, error) {
	resolved, err := ResolveModel(ref, l.opts.ModelDir)
	if err != nil {
		return ResolvedModel{}, err
	}
	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !l.opts.AutoDownload {
		return ResolvedModel{}, fmt.Errorf("model %q is missing at %s; run `voxhub setup --model %s` or enable auto download", resolved.Name, resolved.Path, resolved.Name)
	}

	l.opts.Logger.Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := l.fetch(ctx, &resolved, resolved.SHA256); err != nil {
		return ResolvedModel{}, err
	}
	return resolved, nil
}

// Install makes sure a registry model is present and intact: a missing file
// or one whose checksum does not match is downloaded again. It reports
// whether a download happened. Custom model paths are rejected.
func (l *Loader) Install(ctx context.Context, name string) (ResolvedModel, bool, error) {
	resolved, err := ResolveModel(name, l.opts.ModelDir)
	if err != nil {
		return ResolvedModel{}, false, err
	}
	if resolved.IsCustomPath {
		return ResolvedModel{}, false, fmt.Errorf("setup expects a named model; got custom path %s", resolved.Path)
	}

	expected := resolved.SHA256
	if expected == "" && resolved.SHA256URL != "" {
		if expected, err = download.ResolveExpectedChecksum(ctx, resolved.SHA256URL, resolved.FileName, nil); err != nil {
			return ResolvedModel{}, false, fmt.Errorf("resolve checksum for model %s: %w", resolved.Name, err)
		}
	}

	if !resolved.NeedsDownload {
		err := download.VerifyFileChecksum(resolved.Path, expected)
		if err == nil {
			return resolved, false, nil
		}
		l.opts.Logger.Warn("model checksum verification failed; downloading fresh copy", zap.String("model", resolved.Name), zap.Error(err))
	}

	l.opts.Logger.Info("downloading model", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := l.fetch(ctx, &resolved, expected); err != nil {
		return ResolvedModel{}, false, err
	}
	return resolved, true, nil
}

func (l *Loader) fetch(ctx context.Context, resolved *ResolvedModel, expected string) error {
	if err := l.opts.Download(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: expected,
		ChecksumURL:    resolved.SHA256URL,
		NoProgress:     l.opts.NoProgress,
		Logger:         l.opts.Logger,
	}); err != nil {
		return fmt.Errorf("download model %q: %w", resolved.Name, err)
	}
	resolved.NeedsDownload = false
	return nil
}
