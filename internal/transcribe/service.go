// Package transcribe runs session uploads through a shared speech model and
// memoizes both the loaded models and the finished transcripts.
package transcribe

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fmueller/voxhub/internal/apperr"
	"github.com/fmueller/voxhub/internal/audio"
	"github.com/fmueller/voxhub/internal/memo"
	"github.com/fmueller/voxhub/internal/whisper"
	"github.com/fmueller/voxhub/internal/workspace"
	"go.uber.org/zap"
)

// ModelLoader loads a model by name or path. *whisper.Loader implements it.
type ModelLoader interface {
	Load(ctx context.Context, name string) (*whisper.Model, error)
}

type Options struct {
	DefaultModel string
	// TranscriptCacheSize bounds the transcript cache; 0 keeps every entry
	// for the life of the process.
	TranscriptCacheSize  int
	SilenceGate          bool
	SilenceThresholdDBFS float64
	// Timeout bounds each model load and each transcription; 0 blocks.
	Timeout time.Duration
	Logger  *zap.Logger
}

type Request struct {
	SessionID string
	FileName  string
	Audio     []byte
	// Model defaults to Options.DefaultModel.
	Model string
}

type Result struct {
	Text         string
	Model        string
	AudioPath    string
	DownloadName string
	// Cached is true when the transcript came from the cache without
	// running the engine for this request.
	Cached bool
}

type transcriptKey struct {
	Model string
	Path  string
}

type Service struct {
	store  *workspace.Store
	loader ModelLoader
	opts   Options

	models      *memo.Cache[string, *whisper.Model]
	transcripts *memo.Cache[transcriptKey, string]
}

func NewService(store *workspace.Store, loader ModelLoader, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		opts.DefaultModel = "small"
	}

	return &Service{
		store:  store,
		loader: loader,
		opts:   opts,
		models: memo.New[string, *whisper.Model](),
		transcripts: memo.New[transcriptKey, string](
			memo.WithCapacity[transcriptKey](opts.TranscriptCacheSize),
			memo.WithKeyString(func(k transcriptKey) string { return k.Model + "\x00" + k.Path }),
		),
	}
}

// TranscribeForSession stores the upload in the session's workspace and
// returns its transcript, loading the model and running the engine only
// when no cached value exists.
func (s *Service) TranscribeForSession(ctx context.Context, req Request) (Result, error) {
	const op = "transcribe"

	if len(req.Audio) == 0 {
		return Result{}, apperr.Missing(op, "no audio provided")
	}
	modelName := s.modelName(req.Model)

	artifact, err := s.StoreArtifact(ctx, req.SessionID, req.FileName, req.Audio)
	if err != nil {
		return Result{}, err
	}

	model, err := s.model(ctx, modelName)
	if err != nil {
		return Result{}, err
	}

	path := s.store.ResolvedPath(artifact)
	key := transcriptKey{Model: model.ID(), Path: path}
	log := s.opts.Logger.With(zap.String("session", req.SessionID), zap.String("model", key.Model), zap.String("audio", path))

	var ran atomic.Bool
	text, err := s.transcripts.GetOrComputeContext(ctx, key, func(ctx context.Context) (string, error) {
		ran.Store(true)
		return s.transcribe(ctx, log, model, path, req.Audio)
	})
	if err != nil {
		return Result{}, err
	}
	cached := !ran.Load()
	if cached {
		log.Debug("transcript served from cache")
	}

	return Result{
		Text:         text,
		Model:        key.Model,
		AudioPath:    path,
		DownloadName: DownloadName(artifact.FileName),
		Cached:       cached,
	}, nil
}

// StoreArtifact writes audio into the session's workspace without
// transcribing it.
func (s *Service) StoreArtifact(_ context.Context, sessionID, fileName string, data []byte) (workspace.AudioArtifact, error) {
	if len(data) == 0 {
		return workspace.AudioArtifact{}, apperr.Missing("store artifact", "no audio provided")
	}

	ws, err := s.store.EnsureWorkspace(sessionID)
	if err != nil {
		return workspace.AudioArtifact{}, err
	}
	return s.store.StoreArtifact(ws, fileName, data)
}

// EnsureWorkspace creates the session's workspace if it does not exist yet.
func (s *Service) EnsureWorkspace(sessionID string) (workspace.Workspace, error) {
	return s.store.EnsureWorkspace(sessionID)
}

// ReadArtifact returns the bytes of a file stored earlier in the session's
// workspace. A file that was never stored is reported as missing input.
func (s *Service) ReadArtifact(sessionID, fileName string) ([]byte, error) {
	const op = "read artifact"

	ws, err := s.store.EnsureWorkspace(sessionID)
	if err != nil {
		return nil, err
	}
	path, err := s.store.ArtifactPath(ws, fileName)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Missing(op, "no audio stored as "+filepath.Base(path))
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return data, nil
}

// CachedTranscript looks up a transcript produced earlier for the session's
// file and model. It never computes.
func (s *Service) CachedTranscript(sessionID, fileName, modelName string) (string, bool) {
	if err := workspace.ValidateSessionID(sessionID); err != nil {
		return "", false
	}

	path, err := s.store.ArtifactPath(workspace.Workspace{
		SessionID: sessionID,
		Path:      filepath.Join(s.store.Root(), sessionID),
	}, fileName)
	if err != nil {
		return "", false
	}

	model, ok := s.models.Peek(s.modelName(modelName))
	if !ok {
		return "", false
	}
	return s.transcripts.Peek(transcriptKey{Model: model.ID(), Path: path})
}

// DefaultModel is the model used when a request names none.
func (s *Service) DefaultModel() string {
	return s.opts.DefaultModel
}

type CacheStats struct {
	Models      memo.Stats
	Transcripts memo.Stats
}

func (s *Service) Stats() CacheStats {
	return CacheStats{Models: s.models.Stats(), Transcripts: s.transcripts.Stats()}
}

func (s *Service) model(ctx context.Context, name string) (*whisper.Model, error) {
	return s.models.GetOrComputeContext(ctx, name, func(ctx context.Context) (*whisper.Model, error) {
		ctx, cancel := s.withTimeout(ctx)
		defer cancel()

		started := time.Now()
		model, err := s.loader.Load(ctx, name)
		if err != nil {
			s.opts.Logger.Warn("model load failed", zap.String("model", name), zap.Error(err))
			return nil, apperr.ResourceLoad("load model "+name, err)
		}
		s.opts.Logger.Info("model ready", zap.String("model", name), zap.Duration("elapsed", time.Since(started)))
		return model, nil
	})
}

func (s *Service) transcribe(ctx context.Context, log *zap.Logger, model *whisper.Model, path string, data []byte) (string, error) {
	if s.silent(log, path, data) {
		return BlankAudioToken, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	log.Info("transcribing...")
	started := time.Now()
	text, err := model.Transcribe(ctx, path)
	if err != nil {
		log.Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return "", apperr.ResourceLoad("transcribe "+filepath.Base(path), err)
	}
	log.Info("transcription finished", zap.Duration("elapsed", time.Since(started)))
	return text, nil
}

func (s *Service) silent(log *zap.Logger, path string, data []byte) bool {
	if !s.opts.SilenceGate || !audio.IsWAVName(path) {
		return false
	}

	silent, metrics, err := audio.IsSilentWAV(data, s.opts.SilenceThresholdDBFS)
	if err != nil {
		log.Warn("silence gate analysis failed; continuing transcription", zap.Error(err))
		return false
	}
	if silent {
		log.Info(
			"audio considered silent; skipping transcription",
			zap.Float64("rms_dbfs", metrics.RMSdBFS),
			zap.Float64("peak_dbfs", metrics.PeakdBFS),
			zap.Float64("threshold_dbfs", s.opts.SilenceThresholdDBFS),
		)
	}
	return silent
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

func (s *Service) modelName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return s.opts.DefaultModel
}

// DownloadName derives the transcript file name offered for download. A
// leading dot does not start an extension, nor does a trailing one.
func DownloadName(fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "transcript"
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 && i < len(base)-1 {
		base = base[:i]
	}
	return base + ".txt"
}
