// Package storage manages the pipeline's working space on disk:
// run-scoped scratch directories under a sandboxed root, atomic
// publication of finished files, and the startup hygiene that keeps
// crashed runs from piling up.
package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"
)

const runDirPrefix = "run-"

// Workspace is the root under which every run's scratch directory
// lives. All resolved paths are guarded against escaping it.
type Workspace struct {
	root   string
	logger *slog.Logger
}

// NewWorkspace creates the workspace root if needed. An empty root
// falls back to a "hap" directory under the system temp dir.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "hap")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Workspace{root: abs, logger: slog.Default()}, nil
}

// WithLogger sets the logger and returns the workspace for chaining.
func (w *Workspace) WithLogger(logger *slog.Logger) *Workspace {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// resolve turns a relative path into an absolute one inside the root,
// rejecting absolute inputs and anything that climbs out.
func (w *Workspace) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(w.root, filepath.Clean(rel)))
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if abs != w.root && !strings.HasPrefix(abs, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return abs, nil
}

// NewRunDir creates a fresh scratch directory for one run. The name
// carries a random token so concurrent and crashed runs never collide.
func (w *Workspace) NewRunDir() (*RunDir, error) {
	name := runDirPrefix + uuid.NewString()
	path, err := w.resolve(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	w.logger.Debug("run directory created", slog.String("path", path))
	return &RunDir{workspace: w, name: name, path: path}, nil
}

// SweepOrphans deletes run directories older than maxAge, the debris
// of runs that crashed before their own cleanup. Returns the number
// removed.
func (w *Workspace) SweepOrphans(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0, fmt.Errorf("reading workspace root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), runDirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(w.root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			w.logger.Warn("could not remove orphaned run directory",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		w.logger.Debug("removed orphaned run directory", slog.String("path", path))
		removed++
	}
	return removed, nil
}

// DiskUsage reports filesystem usage at the workspace root.
func (w *Workspace) DiskUsage() (*disk.UsageStat, error) {
	usage, err := disk.Usage(w.root)
	if err != nil {
		return nil, fmt.Errorf("reading disk usage: %w", err)
	}
	return usage, nil
}

// RunDir is one run's scratch space. It is single-writer: only the run
// that created it touches its contents.
type RunDir struct {
	workspace *Workspace
	name      string
	path      string
}

// Path returns the run directory's absolute path.
func (r *RunDir) Path() string {
	return r.path
}

// Name returns the run directory's name under the workspace root.
func (r *RunDir) Name() string {
	return r.name
}

// Join resolves a file name inside the run directory, guarding against
// names (clip ids come from user input) that would climb out of it.
func (r *RunDir) Join(name string) (string, error) {
	abs, err := r.workspace.resolve(filepath.Join(r.name, name))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, r.path+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes run directory: %s", name)
	}
	return abs, nil
}

// Delete removes the run directory and everything in it. Deleting an
// already-deleted run directory is a no-op.
func (r *RunDir) Delete() error {
	if err := os.RemoveAll(r.path); err != nil {
		return fmt.Errorf("removing run directory: %w", err)
	}
	r.workspace.logger.Debug("run directory deleted", slog.String("path", r.path))
	return nil
}

// Publish moves src to dest atomically from the reader's point of
// view: a direct rename when both sit on one filesystem, otherwise a
// copy to a hidden sibling of dest followed by a rename.
func Publish(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	return copyPublish(src, dest)
}

func copyPublish(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+"."+uuid.NewString()[:8]+".tmp")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("copying to destination: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing destination: %w", closeErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return os.Remove(src)
}
