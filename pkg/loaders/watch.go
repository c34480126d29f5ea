package loaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/seung0h/web-3dgs/pkg/core"
)

// SnapshotWatcher reports the snapshot list whenever the point_cloud
// directory tree gains or loses an iteration.
type SnapshotWatcher struct {
	loader   *SnapshotLoader
	watcher  *fsnotify.Watcher
	logger   core.Logger
	debounce time.Duration
}

// NewSnapshotWatcher starts watching the loader's snapshot directory. The
// directory must exist.
func NewSnapshotWatcher(loader *SnapshotLoader, logger core.Logger) (*SnapshotWatcher, error) {
	dir := loader.SnapshotDir()
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("cannot watch snapshots: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// iteration folders are created before their point cloud is written
	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), iterationDir) {
			_ = watcher.Add(filepath.Join(dir, entry.Name()))
		}
	}

	return &SnapshotWatcher{
		loader:   loader,
		watcher:  watcher,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}, nil
}

// Run calls onChange with the current snapshot list after each burst of
// filesystem changes, until ctx is done.
func (w *SnapshotWatcher) Run(ctx context.Context, onChange func([]SnapshotInfo)) {
	defer w.watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
				}
				pending = time.After(w.debounce)
			case event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Remove == fsnotify.Remove ||
				event.Op&fsnotify.Rename == fsnotify.Rename:
				pending = time.After(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("snapshot watcher error: %v\n", err)
		case <-pending:
			pending = nil
			snapshots, err := w.loader.List()
			if err != nil {
				w.logger.Printf("failed to list snapshots: %v\n", err)
				continue
			}
			onChange(snapshots)
		}
	}
}
