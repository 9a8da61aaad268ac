// Package audio inspects uploaded WAV clips so that near-silent recordings
// can skip the expensive transcription step.
package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

const (
	formatPCM   = 1
	formatFloat = 3
)

type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

// IsWAVName reports whether fileName has a .wav extension.
func IsWAVName(fileName string) bool {
	return strings.EqualFold(filepath.Ext(fileName), ".wav")
}

// IsSilentWAV decides whether a WAV clip is too quiet to contain speech. The
// peak may exceed the threshold by 6 dB to tolerate clicks.
func IsSilentWAV(data []byte, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	metrics, err := Analyze(data)
	if err != nil {
		return false, SilenceMetrics{}, err
	}

	if metrics.Samples == 0 || (math.IsInf(metrics.RMSdBFS, -1) && math.IsInf(metrics.PeakdBFS, -1)) {
		return true, metrics, nil
	}
	return metrics.RMSdBFS <= thresholdDBFS && metrics.PeakdBFS <= thresholdDBFS+6, metrics, nil
}

// Analyze measures RMS and peak level of the PCM or float samples in a WAV.
func Analyze(data []byte) (SilenceMetrics, error) {
	if len(data) < 12 || string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return SilenceMetrics{}, ErrInvalidWAV
	}

	var (
		format, bits uint16
		samples      []byte
		hasFmt       bool
		hasData      bool
	)

	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) || end < body {
			if id != "data" {
				return SilenceMetrics{}, ErrInvalidWAV
			}
			// truncated recordings often announce more data than they carry
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return SilenceMetrics{}, ErrInvalidWAV
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			bits = binary.LittleEndian.Uint16(data[body+14 : body+16])
			hasFmt = true
		case "data":
			samples = data[body:end]
			hasData = true
		}

		off = end + size%2
	}

	if !hasFmt || !hasData {
		return SilenceMetrics{}, ErrInvalidWAV
	}

	decode, width, err := sampleDecoder(format, bits)
	if err != nil {
		return SilenceMetrics{}, err
	}

	var peak, sumSquares float64
	var count int64
	for i := 0; i+width <= len(samples); i += width {
		v := decode(samples[i : i+width])
		peak = math.Max(peak, math.Abs(v))
		sumSquares += v * v
		count++
	}

	if count == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}, nil
	}
	return SilenceMetrics{
		RMSdBFS:  toDBFS(math.Sqrt(sumSquares / float64(count))),
		PeakdBFS: toDBFS(peak),
		Samples:  count,
	}, nil
}

func sampleDecoder(format, bits uint16) (func([]byte) float64, int, error) {
	switch {
	case format == formatFloat && bits == 32:
		return func(b []byte) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}, 4, nil
	case format == formatFloat && bits == 64:
		return func(b []byte) float64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}, 8, nil
	case format == formatPCM && bits == 8:
		return func(b []byte) float64 { return (float64(b[0]) - 128) / 128 }, 1, nil
	case format == formatPCM && bits == 16:
		return func(b []byte) float64 {
			return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
		}, 2, nil
	case format == formatPCM && bits == 24:
		return func(b []byte) float64 {
			v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
			return float64(v) / 8388608
		}, 3, nil
	case format == formatPCM && bits == 32:
		return func(b []byte) float64 {
			return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
		}, 4, nil
	default:
		return nil, 0, ErrUnsupportedWAV
	}
}

func toDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(amplitude)
}

// EncodePCM16WAV builds a minimal 16-bit PCM WAV file.
func EncodePCM16WAV(samples []int16, sampleRate, channels int) []byte {
	dataSize := len(samples) * 2
	out := make([]byte, 0, 44+dataSize)

	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+dataSize))
	out = append(out, "WAVE"...)

	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, formatPCM)
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate*channels*2))
	out = binary.LittleEndian.AppendUint16(out, uint16(channels*2))
	out = binary.LittleEndian.AppendUint16(out, 16)

	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(dataSize))
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}
