package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/x360make/internal/logfields"
)

// SourceWatcher watches a source tree and calls its trigger once per burst
// of changes, after the tree has been quiet for the debounce period.
type SourceWatcher struct {
	root     string
	ignore   []string // absolute directories never watched
	debounce time.Duration
	trigger  func()
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// NewSourceWatcher creates a watcher for root. Directories in ignore (for
// example the build output directory) and hidden directories are skipped.
func NewSourceWatcher(root string, debounce time.Duration, trigger func(), ignore ...string) (*SourceWatcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source path: %w", err)
	}
	var ignored []string
	for _, dir := range ignore {
		if a, err := filepath.Abs(dir); err == nil {
			ignored = append(ignored, a)
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	sw := &SourceWatcher{root: abs, ignore: ignored, debounce: debounce, trigger: trigger, watcher: w}
	if err := sw.addTree(abs); err != nil {
		_ = w.Close()
		return nil, err
	}
	return sw, nil
}

func (sw *SourceWatcher) skip(path string, name string) bool {
	if path != sw.root && strings.HasPrefix(name, ".") {
		return true
	}
	return slices.Contains(sw.ignore, path)
}

// addTree watches dir and every directory below it; fsnotify is not recursive.
func (sw *SourceWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if sw.skip(path, d.Name()) {
			return filepath.SkipDir
		}
		if err := sw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run processes events until ctx is done, then closes the watcher.
func (sw *SourceWatcher) Run(ctx context.Context) error {
	slog.Info("Watching source tree", logfields.Path(sw.root))
	defer func() {
		sw.mu.Lock()
		if sw.timer != nil {
			sw.timer.Stop()
		}
		sw.mu.Unlock()
		_ = sw.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return nil
			}
			sw.handle(ev)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				slog.Warn("Watcher event overflow, scheduling rebuild")
				sw.schedule()
				continue
			}
			slog.Error("Source watcher error", logfields.Error(err))
		}
	}
}

func (sw *SourceWatcher) handle(ev fsnotify.Event) {
	dir := filepath.Dir(ev.Name)
	if slices.ContainsFunc(sw.ignore, func(ig string) bool { return ev.Name == ig || isWithin(ig, ev.Name) }) {
		return
	}
	if sw.skip(ev.Name, filepath.Base(ev.Name)) || (dir != sw.root && sw.skip(dir, filepath.Base(dir))) {
		return
	}
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	if ev.Has(fsnotify.Create) {
		// new directories must be watched too
		if err := sw.addTree(ev.Name); err != nil {
			slog.Debug("Could not watch new path", logfields.Path(ev.Name), logfields.Error(err))
		}
	}
	slog.Debug("Source change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
	sw.schedule()
}

// schedule (re)starts the debounce timer.
func (sw *SourceWatcher) schedule() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(sw.debounce, sw.trigger)
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
