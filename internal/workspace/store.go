// Package workspace manages per-session directories under a shared root.
//
// Every session owns exactly one directory named after its UUID v4 session
// id. The naming is what the Reaper relies on to tell reclaimable
// workspaces apart from anything else living in the root, so directories
// are only ever created for canonical v4 ids.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fmueller/voxhub/internal/apperr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordedFileName is used for clips recorded in the browser, which carry
// no file name of their own.
const RecordedFileName = "audio.mp3"

type Workspace struct {
	SessionID string
	Path      string
	// CreatedAt is the directory mtime, used as a creation time proxy.
	CreatedAt time.Time
}

type AudioArtifact struct {
	FileName string
	Size     int64
	path     string
}

type Store struct {
	root   string
	logger *zap.Logger
}

func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, apperr.Storage("open workspace root", errors.New("root must not be empty"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.Storage("resolve workspace root", err)
	}

	return &Store{root: abs, logger: logger}, nil
}

func (s *Store) Root() string {
	return s.root
}

// EnsureWorkspace returns the workspace of sessionID, creating its
// directory and any missing parents first. Calling it again, even
// concurrently, returns the same path and never truncates existing content.
func (s *Store) EnsureWorkspace(sessionID string) (Workspace, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return Workspace{}, apperr.Storage("ensure workspace", err)
	}

	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Workspace{}, apperr.Storage("ensure workspace", fmt.Errorf("create %s: %w", dir, err))
	}

	info, err := os.Stat(dir)
	if err != nil {
		return Workspace{}, apperr.Storage("ensure workspace", fmt.Errorf("stat %s: %w", dir, err))
	}
	if !info.IsDir() {
		return Workspace{}, apperr.Storage("ensure workspace", fmt.Errorf("%s is not a directory", dir))
	}

	return Workspace{SessionID: sessionID, Path: dir, CreatedAt: info.ModTime()}, nil
}

// StoreArtifact writes data to fileName inside ws, replacing any previous
// file of the same name. Only the base name of fileName is used.
func (s *Store) StoreArtifact(ws Workspace, fileName string, data []byte) (AudioArtifact, error) {
	name, err := sanitizeFileName(fileName)
	if err != nil {
		return AudioArtifact{}, err
	}
	if ws.Path == "" {
		return AudioArtifact{}, apperr.Storage("store artifact", errors.New("workspace has no path"))
	}

	target := filepath.Join(ws.Path, name)
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return AudioArtifact{}, apperr.Storage("store artifact", fmt.Errorf("write %s: %w", target, err))
	}

	s.logger.Debug("artifact stored",
		zap.String("session", ws.SessionID),
		zap.String("file", name),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
	)

	return AudioArtifact{FileName: name, Size: int64(len(data)), path: target}, nil
}

// ArtifactPath is where fileName lives (or would live) inside ws.
func (s *Store) ArtifactPath(ws Workspace, fileName string) (string, error) {
	name, err := sanitizeFileName(fileName)
	if err != nil {
		return "", err
	}
	return filepath.Join(ws.Path, name), nil
}

// ResolvedPath is the absolute location of the artifact. It is stable for the
// artifact's lifetime and part of the transcription cache key.
func (s *Store) ResolvedPath(artifact AudioArtifact) string {
	return filepath.Clean(artifact.path)
}

// ValidateSessionID accepts only canonical, hyphenated UUID v4 strings.
func ValidateSessionID(sessionID string) error {
	if len(sessionID) != 36 {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	if id.Version() != 4 {
		return fmt.Errorf("session id %q is not a version 4 uuid", sessionID)
	}
	return nil
}

// NewSessionID returns a fresh UUID v4 session id.
func NewSessionID() string {
	return uuid.NewString()
}

func sanitizeFileName(fileName string) (string, error) {
	name := strings.TrimSpace(fileName)
	// some browsers send the full client path
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	name = filepath.Base(filepath.Clean(name))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return "", apperr.Missing("store artifact", "audio file name is required")
	}
	return name, nil
}
