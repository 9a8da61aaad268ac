package transcribe

import "strings"

// BlankAudioToken is what whisper prints for audio without speech; the
// silence gate returns it too.
const BlankAudioToken = "[BLANK_AUDIO]"

func IsBlank(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return true
	}
	return strings.EqualFold(trimmed, BlankAudioToken)
}

func NoSpeechHint() string {
	return "No speech detected. Check that the recording is not muted and try again."
}
