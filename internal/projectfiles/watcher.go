package projectfiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Op describes what happened to a watched file.
type Op string

const (
	OpCreate Op = "create"
	OpWrite  Op = "write"
	OpRemove Op = "remove"
	OpRename Op = "rename"
)

// Event reports a change to an allow-listed file.
type Event struct {
	Path string `json:"path"`
	Op   Op     `json:"op"`
}

// Watch reports changes to allow-listed files under root until ctx is done.
// Ignored directories are never watched; directories created while watching
// are added automatically. fn is called from the watching goroutine.
func (l *Lister) Watch(ctx context.Context, root string, fn func(Event)) error {
	if fn == nil {
		return errors.New("missing event callback")
	}

	absRoot, _, err := resolveRoot(root)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := l.addTree(ctx, watcher, absRoot); err != nil {
		return err
	}
	slog.DebugContext(ctx, "watching project", "root", absRoot, "directories", len(watcher.WatchList()))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.handleEvent(ctx, watcher, event, fn)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "file watcher error", "root", absRoot, "error", err)
		}
	}
}

// handleEvent extends the watch set for new directories and forwards file events.
func (l *Lister) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event, fn func(Event)) {
	name := filepath.Base(event.Name)

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if l.Ignores(name) {
				return
			}
			if err := l.addTree(ctx, watcher, event.Name); err != nil {
				slog.WarnContext(ctx, "failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	if !l.Includes(name) {
		return
	}

	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	fn(Event{Path: event.Name, Op: op})
}

// addTree watches dir and every non-ignored directory below it. Symlinked
// directories are not followed, so the walk cannot cycle.
func (l *Lister) addTree(ctx context.Context, watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && l.Ignores(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
