package cli

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

const spinnerTick = 120 * time.Millisecond

// spinner renders an indeterminate progress indicator while a model loads or
// a transcription runs.
type spinner struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// startSpinner draws to w until Stop is called. A nil w yields a spinner
// that draws nothing.
func startSpinner(w io.Writer, description string) *spinner {
	ctx, cancel := context.WithCancel(context.Background())
	s := &spinner{cancel: cancel}
	if w == nil {
		return s
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(80*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(spinnerTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()
	return s
}

// Stop halts the spinner and waits for its last frame. Safe to call twice.
func (s *spinner) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}
