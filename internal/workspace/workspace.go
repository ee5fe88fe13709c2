package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/x360make/internal/logfields"
)

const dirPrefix = "x360make-"

// Manager hands out one staging directory per build job.
type Manager struct {
	baseDir string
	retain  bool // keep staging directories after Cleanup
	now     func() time.Time
}

// NewManager creates a manager rooted at baseDir (os.TempDir() when empty).
func NewManager(baseDir string, retain bool) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir, retain: retain, now: time.Now}
}

// BaseDir returns the directory staging areas are created in.
func (m *Manager) BaseDir() string { return m.baseDir }

// Retain reports whether Cleanup keeps directories.
func (m *Manager) Retain() bool { return m.retain }

// Workspace is a staging directory owned by exactly one job.
type Workspace struct {
	path   string
	retain bool
}

// Create makes x360make-<timestamp>-<id8> under the base directory. The
// directory must not exist yet, so two jobs never share one.
func (m *Manager) Create(jobID string) (*Workspace, error) {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging base directory: %w", err)
	}
	id := strings.ReplaceAll(jobID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	dir := filepath.Join(m.baseDir, fmt.Sprintf("%s%s-%s", dirPrefix, m.now().Format("20060102-150405"), id))
	if err := os.Mkdir(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	slog.Debug("Created staging directory", logfields.JobID(jobID), logfields.Path(dir))
	return &Workspace{path: dir, retain: m.retain}, nil
}

// Path returns the staging directory.
func (w *Workspace) Path() string { return w.path }

// Subdir creates and returns a directory inside the workspace.
func (w *Workspace) Subdir(name string) (string, error) {
	if w.path == "" {
		return "", errors.New("workspace already removed")
	}
	dir := filepath.Join(w.path, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}
	return dir, nil
}

// Cleanup removes the staging directory unless retention is enabled.
func (w *Workspace) Cleanup() error {
	if w.path == "" {
		return nil
	}
	if w.retain {
		slog.Info("Retaining staging directory", logfields.Path(w.path))
		return nil
	}
	if err := os.RemoveAll(w.path); err != nil {
		return fmt.Errorf("failed to cleanup staging directory: %w", err)
	}
	slog.Debug("Removed staging directory", logfields.Path(w.path))
	w.path = ""
	return nil
}

// Prune removes staging directories older than maxAge and returns how many
// were deleted. Only names created by this package are considered.
func (m *Manager) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list staging directories: %w", err)
	}

	cutoff := m.now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.baseDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("Pruned staging directory", logfields.Path(path))
		removed++
	}
	return removed, errors.Join(errs...)
}
