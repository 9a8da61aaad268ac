package workspace

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepGate throttles a sweep so that it runs at most once per interval no
// matter how many sessions trigger it. It is shared by all sessions of a
// process.
type SweepGate struct {
	mu       sync.Mutex
	last     time.Time
	running  bool
	scans    int64
	interval time.Duration

	sweep  func() (int, error)
	now    func() time.Time
	logger *zap.Logger
}

// NewSweepGate gates reaper sweeps of root with the given retention, which
// also serves as the minimum interval between two sweeps.
func NewSweepGate(reaper *Reaper, root string, retention time.Duration, logger *zap.Logger) *SweepGate {
	return newSweepGate(func() (int, error) { return reaper.Sweep(root, retention) }, retention, logger)
}

func newSweepGate(sweep func() (int, error), interval time.Duration, logger *zap.Logger) *SweepGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepGate{interval: interval, sweep: sweep, now: time.Now, logger: logger}
}

// Trigger runs the sweep unless one ran less than an interval ago or is
// still running. It reports whether this call performed the scan.
func (g *SweepGate) Trigger() bool {
	g.mu.Lock()
	now := g.now()
	if g.running || (!g.last.IsZero() && now.Sub(g.last) < g.interval) {
		g.mu.Unlock()
		return false
	}
	g.running = true
	g.last = now
	g.scans++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()

	removed, err := g.sweep()
	if err != nil {
		g.logger.Warn("workspace sweep finished with errors", zap.Int("removed", removed), zap.Error(err))
		return true
	}
	if removed > 0 {
		g.logger.Info("stale workspaces removed", zap.Int("removed", removed))
	}
	return true
}

// Run triggers the gate every tick until ctx is done.
func (g *SweepGate) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = g.interval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Trigger()
		}
	}
}

// Scans is the number of sweeps actually performed.
func (g *SweepGate) Scans() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scans
}
