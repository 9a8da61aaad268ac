//go:build e2e

package cli

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fmueller/voxhub/internal/audio"
	"github.com/fmueller/voxhub/internal/transcribe"
	"github.com/fmueller/voxhub/internal/whisper"
	"github.com/stretchr/testify/require"
)

const (
	e2eWhisperPathEnv = "VOXHUB_E2E_WHISPER_PATH"
	e2eModelDirEnv    = "VOXHUB_E2E_MODEL_DIR"
)

func setupE2E(t *testing.T) string {
	t.Helper()

	whisperPath := strings.TrimSpace(os.Getenv(e2eWhisperPathEnv))
	if whisperPath == "" {
		t.Skip("set VOXHUB_E2E_WHISPER_PATH to run e2e test")
	}
	t.Setenv(whisper.EnginePathEnv, whisperPath)

	modelDir := strings.TrimSpace(os.Getenv(e2eModelDirEnv))
	if modelDir == "" {
		modelDir = t.TempDir()
	}

	_, stderr, err := runRootCommand(context.Background(), []string{"setup", "--model", "tiny", "--model-dir", modelDir, "--no-progress"})
	require.NoErrorf(t, err, "setup command failed: %s", stderr)
	return modelDir
}

func runRootCommand(ctx context.Context, args []string) (stdout string, stderr string, err error) {
	cmd := NewRootCmd()
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetContext(ctx)
	cmd.SetArgs(append([]string{"--env-file="}, args...))

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func TestTranscribeBlankAudioEndToEnd(t *testing.T) {
	modelDir := setupE2E(t)

	silentWAV := filepath.Join(t.TempDir(), "silent.wav")
	require.NoError(t, os.WriteFile(silentWAV, audio.EncodePCM16WAV(make([]int16, 16000), 16000, 1), 0o644))

	stdout, stderr, err := runRootCommand(context.Background(), []string{
		"transcribe", "--model", "tiny", "--model-dir", modelDir, "--root", t.TempDir(), "--no-progress", silentWAV,
	})
	require.NoErrorf(t, err, "transcribe command failed: %s", stderr)
	require.Equal(t, transcribe.BlankAudioToken, strings.TrimSpace(stdout))
}

func TestTranscribeToneThroughEngineEndToEnd(t *testing.T) {
	modelDir := setupE2E(t)

	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	tone := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, os.WriteFile(tone, audio.EncodePCM16WAV(samples, 16000, 1), 0o644))

	for _, language := range []string{"en", "auto"} {
		_, stderr, err := runRootCommand(context.Background(), []string{
			"transcribe", "--model", "tiny", "--model-dir", modelDir, "--root", t.TempDir(), "--language", language, "--no-progress", tone,
		})
		require.NoErrorf(t, err, "transcribe with --language %s failed: %s", language, stderr)
	}
}
