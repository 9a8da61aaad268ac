package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fmueller/voxhub/internal/apperr"
	"go.uber.org/zap"
)

// DefaultRetention is how long an untouched workspace survives.
const DefaultRetention = 24 * time.Hour

var workspaceNamePattern = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// IsWorkspaceName reports whether a directory name looks like a session
// workspace and may therefore be reclaimed.
func IsWorkspaceName(name string) bool {
	return workspaceNamePattern.MatchString(name)
}

type Reaper struct {
	logger *zap.Logger
	now    func() time.Time
	remove func(string) error
}

func NewReaper(logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{logger: logger, now: time.Now, remove: os.RemoveAll}
}

// Sweep removes every workspace directory directly below root whose mtime is
// at least retention old. Entries that do not look like workspaces are left
// alone. A failure on one directory does not stop the sweep; all failures
// are returned joined, next to the number of directories removed.
func (r *Reaper) Sweep(root string, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", retention)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, apperr.Storage("sweep workspaces", fmt.Errorf("list %s: %w", root, err))
	}

	now := r.now()
	removed := 0
	var failures []error

	for _, entry := range entries {
		if !entry.IsDir() || !IsWorkspaceName(entry.Name()) {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			r.logger.Warn("failed to stat workspace; skipping", zap.String("path", dir), zap.Error(err))
			failures = append(failures, apperr.Storage("stat workspace", err))
			continue
		}

		age := now.Sub(info.ModTime())
		if age < retention {
			continue
		}

		if err := r.remove(dir); err != nil {
			r.logger.Warn("failed to remove stale workspace; continuing", zap.String("path", dir), zap.Error(err))
			failures = append(failures, apperr.Storage("remove workspace", err))
			continue
		}

		removed++
		r.logger.Debug("removed stale workspace", zap.String("path", dir), zap.Duration("age", age))
	}

	return removed, errors.Join(failures...)
}
