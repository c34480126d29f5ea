package session

import (
	"context"
	"fmt"

	"github.com/seung0h/web-3dgs/pkg/renderer"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

// Event is a control-surface change that affects every viewer's next frame
type Event interface {
	apply(ctx context.Context, d Dispatcher) error
	fmt.Stringer
}

// FovChanged sets the horizontal field of view in degrees
type FovChanged struct {
	Degrees float64
}

func (e FovChanged) apply(_ context.Context, d Dispatcher) error {
	return d.UpdateFov(e.Degrees)
}

func (e FovChanged) String() string {
	return fmt.Sprintf("fov=%g°", e.Degrees)
}

// ScaleChanged sets the Gaussian scale modifier, in (0, 1]
type ScaleChanged struct {
	Scale float64
}

func (e ScaleChanged) apply(_ context.Context, d Dispatcher) error {
	return d.SetScale(e.Scale)
}

func (e ScaleChanged) String() string {
	return fmt.Sprintf("scale=%g", e.Scale)
}

// ModeChanged switches between color and depth output
type ModeChanged struct {
	Mode renderer.Mode
}

func (e ModeChanged) apply(_ context.Context, d Dispatcher) error {
	return d.SetMode(e.Mode)
}

func (e ModeChanged) String() string {
	return "mode=" + e.Mode.String()
}

// SnapshotChanged reloads the scene from another training snapshot
type SnapshotChanged struct {
	ID splat.SnapshotID
}

func (e SnapshotChanged) apply(ctx context.Context, d Dispatcher) error {
	return d.Reload(ctx, e.ID)
}

func (e SnapshotChanged) String() string {
	return fmt.Sprintf("snapshot=%d", e.ID)
}
