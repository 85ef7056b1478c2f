package browse

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"gitscout/internal/debounce"
)

const reloadDebounceDelay = 350 * time.Millisecond

// Watcher calls onChange when the repository changes on disk. Events
// debounce for 350ms so one git operation's burst of writes triggers a
// single reload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce *debounce.Debouncer
}

// NewWatcher watches the repository's .git directory, or the root itself
// for bare repositories.
func NewWatcher(root string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	path := watchPath(root)
	slog.Debug("adding path to FS watcher", slog.String("path", path))
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	w := &Watcher{
		watcher:  fw,
		debounce: debounce.New(reloadDebounceDelay, onChange),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) Close() {
	w.debounce.Stop()
	if err := w.watcher.Close(); err != nil {
		slog.Error("watcher close", slog.Any("error", err))
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if shouldIgnoreWatchPath(ev.Name) {
				continue
			}
			slog.Debug("fsnotify event",
				slog.String("op", ev.Op.String()),
				slog.String("path", ev.Name),
			)
			w.debounce.Trigger()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

// watchPath picks the .git directory when present; bare repositories watch
// the root itself.
func watchPath(root string) string {
	gitDir := filepath.Join(root, ".git")
	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		return gitDir
	}
	return root
}

// shouldIgnoreWatchPath filters the transient files git churns through.
func shouldIgnoreWatchPath(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".lock" || ext == ".ipc"
}
