package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func sine(n int, amplitude float64) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000.0))
	}
	return samples
}

func TestIsSilentWAVDetectsSilence(t *testing.T) {
	t.Parallel()

	silent, metrics, err := IsSilentWAV(EncodePCM16WAV(make([]int16, 16000), 16000, 1), -65)
	require.NoError(t, err)
	require.True(t, silent)
	require.True(t, math.IsInf(metrics.RMSdBFS, -1))
	require.True(t, math.IsInf(metrics.PeakdBFS, -1))
	require.EqualValues(t, 16000, metrics.Samples)
}

func TestIsSilentWAVDetectsSpeechLikeSignal(t *testing.T) {
	t.Parallel()

	silent, metrics, err := IsSilentWAV(EncodePCM16WAV(sine(16000, 0.25), 16000, 1), -65)
	require.NoError(t, err)
	require.False(t, silent)
	require.Greater(t, metrics.PeakdBFS, -20.0)
	require.Greater(t, metrics.RMSdBFS, -20.0)
}

func TestIsSilentWAVEmptyData(t *testing.T) {
	t.Parallel()

	silent, metrics, err := IsSilentWAV(EncodePCM16WAV(nil, 16000, 1), -65)
	require.NoError(t, err)
	require.True(t, silent)
	require.Zero(t, metrics.Samples)
}

func TestAnalyzeTruncatedDataChunk(t *testing.T) {
	t.Parallel()

	wav := EncodePCM16WAV(sine(1000, 0.5), 16000, 1)
	metrics, err := Analyze(wav[:len(wav)-500])
	require.NoError(t, err)
	require.EqualValues(t, 750, metrics.Samples)
}

func TestAnalyzeRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := Analyze([]byte("hello"))
	require.ErrorIs(t, err, ErrInvalidWAV)

	wav := EncodePCM16WAV(sine(10, 0.5), 16000, 1)
	wav[20] = 2 // ADPCM
	_, err = Analyze(wav)
	require.ErrorIs(t, err, ErrUnsupportedWAV)
}

func TestIsWAVName(t *testing.T) {
	t.Parallel()

	require.True(t, IsWAVName("speech.WAV"))
	require.False(t, IsWAVName("audio.mp3"))
	require.False(t, IsWAVName("wav"))
}
