package whisper

import "context"

type TranscriptionRequest struct {
	AudioPath string
	ModelPath string
	Language  string
}

// Engine turns an audio file into text. Implementations must allow
// concurrent calls for different audio paths.
type Engine interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
}
