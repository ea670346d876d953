package scanner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultQuietPeriod = 2 * time.Second

// LogWatcher waits for a log file to be written to and then go quiet.
type LogWatcher struct {
	path  string
	quiet time.Duration
}

// NewLogWatcher returns a watcher for path. Writes separated by less than
// quiet are treated as one burst.
func NewLogWatcher(path string, quiet time.Duration) (*LogWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("log path cannot be empty")
	}
	if quiet <= 0 {
		quiet = defaultQuietPeriod
	}
	return &LogWatcher{path: path, quiet: quiet}, nil
}

// Wait blocks until the log receives a burst of writes that then settles,
// until limit elapses, or until ctx is done. It reports whether the log changed.
func (w *LogWatcher) Wait(ctx context.Context, limit time.Duration) (bool, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so rotation (rename + create) is seen too.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return false, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	deadline := time.NewTimer(limit)
	defer deadline.Stop()

	var quietTimer *time.Timer
	var quietCh <-chan time.Time
	defer func() {
		if quietTimer != nil {
			quietTimer.Stop()
		}
	}()

	changed := false
	for {
		select {
		case <-ctx.Done():
			return changed, ctx.Err()

		case <-deadline.C:
			return changed, nil

		case <-quietCh:
			return true, nil

		case event, ok := <-watcher.Events:
			if !ok {
				return changed, nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			changed = true
			if quietTimer != nil {
				quietTimer.Stop()
			}
			quietTimer = time.NewTimer(w.quiet)
			quietCh = quietTimer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return changed, nil
			}
			return changed, fmt.Errorf("file watcher error: %w", err)
		}
	}
}
