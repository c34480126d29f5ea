package loaders

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

const (
	snapshotDir  = "point_cloud"
	iterationDir = "iteration_"
	snapshotFile = "point_cloud.ply"
	camerasFile  = "cameras.json"
)

// SnapshotInfo describes one training snapshot found under a scene directory
type SnapshotInfo struct {
	ID   splat.SnapshotID `json:"id"`
	Path string           `json:"path"`
}

// SnapshotLoader reads <root>/point_cloud/iteration_<id>/point_cloud.ply
type SnapshotLoader struct {
	root string
}

// NewSnapshotLoader creates a loader rooted at a trained scene directory
func NewSnapshotLoader(root string) *SnapshotLoader {
	return &SnapshotLoader{root: root}
}

// Root returns the scene directory
func (l *SnapshotLoader) Root() string {
	return l.root
}

// SnapshotDir returns the directory holding the iteration_* folders
func (l *SnapshotLoader) SnapshotDir() string {
	return filepath.Join(l.root, snapshotDir)
}

// SnapshotPath returns the PLY path for a snapshot id
func (l *SnapshotLoader) SnapshotPath(id splat.SnapshotID) string {
	return filepath.Join(l.root, snapshotDir, fmt.Sprintf("%s%d", iterationDir, id), snapshotFile)
}

// Load decodes the snapshot; a missing file wraps core.ErrSnapshotNotFound
func (l *SnapshotLoader) Load(ctx context.Context, id splat.SnapshotID) (*splat.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := l.SnapshotPath(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("iteration %d at %s: %w", id, path, core.ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	set, err := LoadPLY(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", path, err)
	}
	return set, nil
}

// List returns the snapshots present under the scene, ordered by iteration
func (l *SnapshotLoader) List() ([]SnapshotInfo, error) {
	return ListSnapshots(l.root)
}

// Latest returns the highest iteration present, or ErrSnapshotNotFound
func (l *SnapshotLoader) Latest() (splat.SnapshotID, error) {
	snapshots, err := l.List()
	if err != nil {
		return 0, err
	}
	if len(snapshots) == 0 {
		return 0, fmt.Errorf("no snapshots under %s: %w", l.SnapshotDir(), core.ErrSnapshotNotFound)
	}
	return snapshots[len(snapshots)-1].ID, nil
}

// ListSnapshots scans <root>/point_cloud for iteration_<N> directories that
// contain a point cloud. Entries whose suffix is not a number are skipped.
func ListSnapshots(root string) ([]SnapshotInfo, error) {
	dir := filepath.Join(root, snapshotDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []SnapshotInfo{}, nil
		}
		return nil, fmt.Errorf("failed to scan snapshot directory: %w", err)
	}

	snapshots := []SnapshotInfo{}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), iterationDir) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), iterationDir))
		if err != nil || n < 0 {
			continue
		}
		path := filepath.Join(dir, entry.Name(), snapshotFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{ID: splat.SnapshotID(n), Path: path})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ID < snapshots[j].ID
	})
	return snapshots, nil
}
