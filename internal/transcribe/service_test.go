package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fmueller/voxhub/internal/apperr"
	"github.com/fmueller/voxhub/internal/audio"
	"github.com/fmueller/voxhub/internal/whisper"
	"github.com/fmueller/voxhub/internal/workspace"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu    sync.Mutex
	paths []string
	err   error
	delay time.Duration
}

func (e *fakeEngine) Transcribe(ctx context.Context, req whisper.TranscriptionRequest) (string, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths = append(e.paths, req.AudioPath)
	if e.err != nil {
		return "", e.err
	}

	content, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return "", err
	}
	return "heard " + string(content), nil
}

func (e *fakeEngine) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...)
}

type fakeLoader struct {
	engine *fakeEngine
	loads  atomic.Int64
	err    error
}

func (l *fakeLoader) Load(_ context.Context, name string) (*whisper.Model, error) {
	l.loads.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return whisper.NewModel(name, "/models/ggml-"+name+".bin", "auto", l.engine), nil
}

func newTestService(t *testing.T, opts Options) (*Service, *fakeLoader) {
	t.Helper()

	store, err := workspace.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	loader := &fakeLoader{engine: &fakeEngine{}}
	return NewService(store, loader, opts), loader
}

func TestTranscribeForSessionEndToEnd(t *testing.T) {
	t.Parallel()

	svc, loader := newTestService(t, Options{})
	session := workspace.NewSessionID()
	req := Request{SessionID: session, FileName: "speech.wav", Audio: []byte("B"), Model: "small"}

	first, err := svc.TranscribeForSession(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "heard B", first.Text)
	require.Equal(t, "small", first.Model)
	require.Equal(t, "speech.txt", first.DownloadName)
	require.False(t, first.Cached)
	require.Equal(t, filepath.Join(svc.store.Root(), session, "speech.wav"), first.AudioPath)

	stored, err := os.ReadFile(first.AudioPath)
	require.NoError(t, err)
	require.Equal(t, []byte("B"), stored)

	second, err := svc.TranscribeForSession(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.Text, second.Text)
	require.True(t, second.Cached)

	require.EqualValues(t, 1, loader.loads.Load())
	require.Equal(t, []string{first.AudioPath}, loader.engine.calls())
}

func TestTranscribeForSessionIsolatesSessions(t *testing.T) {
	t.Parallel()

	svc, loader := newTestService(t, Options{})

	one, err := svc.TranscribeForSession(context.Background(), Request{
		SessionID: workspace.NewSessionID(), FileName: "speech.wav", Audio: []byte("first"),
	})
	require.NoError(t, err)
	two, err := svc.TranscribeForSession(context.Background(), Request{
		SessionID: workspace.NewSessionID(), FileName: "speech.wav", Audio: []byte("second"),
	})
	require.NoError(t, err)

	require.NotEqual(t, one.AudioPath, two.AudioPath)
	require.Equal(t, "heard first", one.Text)
	require.Equal(t, "heard second", two.Text)
	require.Len(t, loader.engine.calls(), 2)
	require.EqualValues(t, 1, loader.loads.Load())
	require.Equal(t, 2, svc.Stats().Transcripts.Entries)
}

func TestTranscribeForSessionKeepsStaleTranscriptForSameName(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Options{})
	session := workspace.NewSessionID()

	_, err := svc.TranscribeForSession(context.Background(), Request{SessionID: session, FileName: "speech.wav", Audio: []byte("old")})
	require.NoError(t, err)

	again, err := svc.TranscribeForSession(context.Background(), Request{SessionID: session, FileName: "speech.wav", Audio: []byte("new")})
	require.NoError(t, err)
	require.Equal(t, "heard old", again.Text)
	require.True(t, again.Cached)

	stored, err := os.ReadFile(again.AudioPath)
	require.NoError(t, err)
	require.Equal(t, []byte("new"), stored)
}

func TestTranscribeForSessionRequiresAudio(t *testing.T) {
	t.Parallel()

	svc, loader := newTestService(t, Options{})

	_, err := svc.TranscribeForSession(context.Background(), Request{SessionID: workspace.NewSessionID(), FileName: "speech.wav"})
	require.ErrorIs(t, err, apperr.InputMissing)

	_, err = svc.TranscribeForSession(context.Background(), Request{SessionID: workspace.NewSessionID(), Audio: []byte("B")})
	require.ErrorIs(t, err, apperr.InputMissing)

	require.Zero(t, loader.loads.Load())
}

func TestTranscribeForSessionRejectsInvalidSession(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Options{})

	_, err := svc.TranscribeForSession(context.Background(), Request{SessionID: "../etc", FileName: "speech.wav", Audio: []byte("B")})
	require.ErrorIs(t, err, apperr.StorageFailure)
}

func TestTranscribeForSessionDoesNotCacheLoadFailure(t *testing.T) {
	t.Parallel()

	svc, loader := newTestService(t, Options{})
	loader.err = errors.New("model file corrupt")
	req := Request{SessionID: workspace.NewSessionID(), FileName: "speech.wav", Audio: []byte("B")}

	_, err := svc.TranscribeForSession(context.Background(), req)
	require.ErrorIs(t, err, apperr.ResourceLoadFailure)
	require.ErrorContains(t, err, "model file corrupt")

	loader.err = nil
	result, err := svc.TranscribeForSession(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "heard B", result.Text)
	require.EqualValues(t, 2, loader.loads.Load())
}

func TestTranscribeForSessionDoesNotCacheEngineFailure(t *testing.T) {
	t.Parallel()

	svc, loader := newTestService(t, Options{})
	loader.engine.err = errors.New("unsupported format")
	req := Request{SessionID: workspace.NewSessionID(), FileName: "speech.m4a", Audio: []byte("B")}

	_, err := svc.TranscribeForSession(context.Background(), req)
	require.ErrorIs(t, err, apperr.ResourceLoadFailure)

	loader.engine.mu.Lock()
	loader.engine.err = nil
	loader.engine.mu.Unlock()

	result, err := svc.TranscribeForSession(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.Cached)
	require.Len(t, loader.engine.calls(), 2)
}

func TestTranscribeForSessionDedupesConcurrentRequests(t *testing.T) {
	t.Parallel()

	svc, loader := newTestService(t, Options{})
	loader.engine.delay = 50 * time.Millisecond
	req := Request{SessionID: workspace.NewSessionID(), FileName: "speech.wav", Audio: []byte("B")}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.TranscribeForSession(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, loader.loads.Load())
	require.Len(t, loader.engine.calls(), 1)
}

func TestTranscribeForSessionSkipsSilentWAV(t *testing.T) {
	t.Parallel()

	svc, loader := newTestService(t, Options{SilenceGate: true, SilenceThresholdDBFS: -65})
	silence := audio.EncodePCM16WAV(make([]int16, 1600), 16000, 1)

	result, err := svc.TranscribeForSession(context.Background(), Request{
		SessionID: workspace.NewSessionID(), FileName: "quiet.wav", Audio: silence,
	})
	require.NoError(t, err)
	require.Equal(t, BlankAudioToken, result.Text)
	require.True(t, IsBlank(result.Text))
	require.Empty(t, loader.engine.calls())
}

func TestTranscribeForSessionTimeout(t *testing.T) {
	t.Parallel()

	svc, loader := newTestService(t, Options{Timeout: 10 * time.Millisecond})
	loader.engine.delay = time.Second

	_, err := svc.TranscribeForSession(context.Background(), Request{
		SessionID: workspace.NewSessionID(), FileName: "long.mp3", Audio: []byte("B"),
	})
	require.ErrorIs(t, err, apperr.ResourceLoadFailure)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCachedTranscript(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Options{DefaultModel: "tiny"})
	session := workspace.NewSessionID()

	_, ok := svc.CachedTranscript(session, "speech.wav", "")
	require.False(t, ok)

	_, err := svc.TranscribeForSession(context.Background(), Request{SessionID: session, FileName: "speech.wav", Audio: []byte("B")})
	require.NoError(t, err)

	text, ok := svc.CachedTranscript(session, "speech.wav", "tiny")
	require.True(t, ok)
	require.Equal(t, "heard B", text)

	_, ok = svc.CachedTranscript(session, "speech.wav", "small")
	require.False(t, ok)
	_, ok = svc.CachedTranscript(workspace.NewSessionID(), "speech.wav", "tiny")
	require.False(t, ok)
	_, ok = svc.CachedTranscript("not-a-session", "speech.wav", "tiny")
	require.False(t, ok)
}

func TestStoreArtifactWithoutTranscribing(t *testing.T) {
	t.Parallel()

	svc, loader := newTestService(t, Options{})
	session := workspace.NewSessionID()

	artifact, err := svc.StoreArtifact(context.Background(), session, "audio.mp3", []byte("rec"))
	require.NoError(t, err)
	require.Equal(t, "audio.mp3", artifact.FileName)
	require.EqualValues(t, 3, artifact.Size)
	require.Zero(t, loader.loads.Load())

	_, err = svc.StoreArtifact(context.Background(), session, "audio.mp3", nil)
	require.ErrorIs(t, err, apperr.InputMissing)
}

func TestDownloadName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "speech.txt", DownloadName("speech.wav"))
	require.Equal(t, "noext.txt", DownloadName("noext"))
	require.Equal(t, "archive.tar.txt", DownloadName("archive.tar.gz"))
	require.Equal(t, "clip.txt", DownloadName(`C:\Users\me\clip.m4a`))
	require.Equal(t, "transcript.txt", DownloadName(""))
	require.Equal(t, ".hidden.txt", DownloadName(".hidden"))
	require.Equal(t, ".hidden.txt", DownloadName(".hidden.wav"))
	require.Equal(t, "trailing..txt", DownloadName("trailing."))
}

func TestIsBlank(t *testing.T) {
	t.Parallel()

	require.True(t, IsBlank(""))
	require.True(t, IsBlank("   \n\t "))
	require.True(t, IsBlank("[BLANK_AUDIO]"))
	require.True(t, IsBlank(" [blank_audio] "))
	require.False(t, IsBlank("Hello world"))
}

func TestReadArtifact(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Options{})
	session := workspace.NewSessionID()

	_, err := svc.ReadArtifact(session, workspace.RecordedFileName)
	require.ErrorIs(t, err, apperr.InputMissing)

	_, err = svc.StoreArtifact(context.Background(), session, workspace.RecordedFileName, []byte("rec"))
	require.NoError(t, err)

	data, err := svc.ReadArtifact(session, workspace.RecordedFileName)
	require.NoError(t, err)
	require.Equal(t, []byte("rec"), data)
}

// slowLoader holds every load until release is closed and fails if the
// load's context was cancelled meanwhile.
type slowLoader struct {
	fakeLoader
	started chan struct{}
	release chan struct{}
}

func (l *slowLoader) Load(ctx context.Context, name string) (*whisper.Model, error) {
	if l.loads.Add(1) == 1 {
		close(l.started)
	}
	<-l.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return whisper.NewModel(name, "/models/ggml-"+name+".bin", "auto", l.engine), nil
}

func TestTranscribeForSessionSharedLoadSurvivesCancelledSession(t *testing.T) {
	t.Parallel()

	store, err := workspace.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	loader := &slowLoader{
		fakeLoader: fakeLoader{engine: &fakeEngine{}},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	svc := NewService(store, loader, Options{})

	leaving, leave := context.WithCancel(context.Background())
	leftErr := make(chan error, 1)
	go func() {
		_, err := svc.TranscribeForSession(leaving, Request{SessionID: workspace.NewSessionID(), FileName: "a.wav", Audio: []byte("A")})
		leftErr <- err
	}()
	<-loader.started

	type outcome struct {
		result Result
		err    error
	}
	staying := make(chan outcome, 1)
	go func() {
		result, err := svc.TranscribeForSession(context.Background(), Request{SessionID: workspace.NewSessionID(), FileName: "b.wav", Audio: []byte("B")})
		staying <- outcome{result, err}
	}()
	require.Eventually(t, func() bool { return svc.Stats().Models.Misses == 2 }, 2*time.Second, 5*time.Millisecond)

	leave()
	require.ErrorIs(t, <-leftErr, context.Canceled)
	close(loader.release)

	got := <-staying
	require.NoError(t, got.err)
	require.Equal(t, "heard B", got.result.Text)
	require.EqualValues(t, 1, loader.loads.Load())
}
