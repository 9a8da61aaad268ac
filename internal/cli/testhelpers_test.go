package cli

import (
	"bytes"
	"context"
	"os"
	"sync/atomic"
	"testing"

	"github.com/fmueller/voxhub/internal/config"
	"github.com/fmueller/voxhub/internal/transcribe"
	"github.com/fmueller/voxhub/internal/whisper"
	"go.uber.org/zap"
)

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runApp(t, &appState{}, args)
}

func runApp(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(append([]string{"--env-file="}, args...))

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// countingEngine answers with the audio file contents.
type countingEngine struct {
	calls atomic.Int64
}

func (e *countingEngine) Transcribe(_ context.Context, req whisper.TranscriptionRequest) (string, error) {
	e.calls.Add(1)
	content, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return "", err
	}
	return "transcript of " + string(content), nil
}

type engineLoader struct {
	engine *countingEngine
	cfg    config.Config
}

func (l *engineLoader) Load(_ context.Context, name string) (*whisper.Model, error) {
	return whisper.NewModel(name, l.cfg.ModelDir+"/"+name, l.cfg.Language, l.engine), nil
}

func fakeApp(engine *countingEngine) *appState {
	return &appState{
		newLoader: func(cfg config.Config, _ *zap.Logger) transcribe.ModelLoader {
			return &engineLoader{engine: engine, cfg: cfg}
		},
		preflightFn: func(context.Context) error { return nil },
	}
}
