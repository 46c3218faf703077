package executor

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FixtureWatcher watches a fixture directory tree and invokes a callback,
// debounced, when its contents change. The watch command uses it to re-grade
// a task while its fixture is being edited.
type FixtureWatcher struct {
	dir      string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger
}

// NewFixtureWatcher builds a watcher over dir with the given debounce window.
func NewFixtureWatcher(dir string, debounce time.Duration, onChange func(), logger *slog.Logger) *FixtureWatcher {
	return &FixtureWatcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}
}

// Watch blocks until the context is cancelled, firing onChange after each
// debounced burst of fixture edits.
func (w *FixtureWatcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	if err := w.addSubdirs(fw); err != nil {
		w.logger.Warn("some fixture subdirectories are not watched", "error", err)
	}

	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevantChange(event) {
				continue
			}
			w.logger.Debug("fixture change", "file", event.Name, "op", event.Op.String())

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.onChange)

			// New subdirectories need their own watch.
			if event.Has(fsnotify.Create) {
				_ = w.addSubdirs(fw)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fixture watcher error", "error", err)
		}
	}
}

// relevantChange filters out edits that cannot affect grading: hidden files
// (editor state, git internals) and scratch extensions.
func relevantChange(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch filepath.Ext(name) {
	case ".swp", ".swo", ".tmp", ".bak":
		return false
	}
	return true
}

func (w *FixtureWatcher) addSubdirs(fw *fsnotify.Watcher) error {
	return filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != w.dir {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			w.logger.Debug("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}
