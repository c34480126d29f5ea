package splat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/seung0h/web-3dgs/pkg/core"
)

// SnapshotID identifies one stored scene snapshot (a training iteration)
type SnapshotID int

// Loader reads a scene snapshot. Implementations return an error wrapping
// core.ErrSnapshotNotFound when the snapshot does not exist.
type Loader interface {
	Load(ctx context.Context, id SnapshotID) (*Set, error)
}

// loaded pairs a set with the snapshot it came from so both swap together
type loaded struct {
	set *Set
	id  SnapshotID
}

// Model is the read interface the render pipeline uses. The active set is
// replaced wholesale, so readers always see either the old or the new set.
type Model struct {
	loader Loader
	active atomic.Pointer[loaded]
	loadMu sync.Mutex // serializes Load calls
}

// NewModel creates an empty model backed by loader
func NewModel(loader Loader) *Model {
	return &Model{loader: loader}
}

// NewStaticModel creates a model that always serves set. It has no loader,
// so Load always fails with core.ErrSnapshotNotFound.
func NewStaticModel(set *Set, id SnapshotID) *Model {
	m := &Model{}
	m.active.Store(&loaded{set: set, id: id})
	return m
}

// Load reads snapshot id and makes it active. On failure the previously
// active set is left untouched.
func (m *Model) Load(ctx context.Context, id SnapshotID) error {
	_, err := m.LoadGuarded(ctx, id, nil)
	return err
}

// LoadGuarded is Load with the swap itself made while holding guard, so a
// caller can keep the swap out of its own critical sections. Loads are
// serialized end to end: concurrent calls activate in the order they start.
func (m *Model) LoadGuarded(ctx context.Context, id SnapshotID, guard sync.Locker) (*Set, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	set, err := m.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		guard.Lock()
		defer guard.Unlock()
	}
	m.Activate(set, id)
	return set, nil
}

// Fetch reads snapshot id without activating it
func (m *Model) Fetch(ctx context.Context, id SnapshotID) (*Set, error) {
	if m.loader == nil {
		return nil, fmt.Errorf("load snapshot %d: model has no loader: %w", id, core.ErrSnapshotNotFound)
	}
	set, err := m.loader.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %d: %w", id, err)
	}
	return set, nil
}

// Activate makes set the active snapshot in one atomic swap
func (m *Model) Activate(set *Set, id SnapshotID) {
	m.active.Store(&loaded{set: set, id: id})
}

// Current returns the active set, or nil before the first successful load
func (m *Model) Current() *Set {
	if l := m.active.Load(); l != nil {
		return l.set
	}
	return nil
}

// Snapshot returns the id of the active snapshot and whether one is loaded
func (m *Model) Snapshot() (SnapshotID, bool) {
	if l := m.active.Load(); l != nil {
		return l.id, true
	}
	return 0, false
}
