// Package renderer turns a camera view into an image by driving a
// rasterization backend with the active splat scene and shared intrinsics.
package renderer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/camera"
	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/raster"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

// Frame is the outcome of one render
type Frame struct {
	Image    *ImageBuffer // 3 channels in color mode, 1 channel of raw depth in depth mode
	Mode     Mode
	Visible  int
	Snapshot splat.SnapshotID
	Elapsed  time.Duration
	Stats    raster.RenderStats
}

// Display returns the frame as a 3-channel image ready for delivery
func (f *Frame) Display() *ImageBuffer {
	if f.Mode == ModeDepth {
		return NormalizeDepth(f.Image)
	}
	return f.Image
}

// Dispatcher owns the render intrinsics and the cached projection matrix.
// Intrinsics and the active scene form one critical section: no mutation
// runs while a render is reading them.
type Dispatcher struct {
	mu         sync.Mutex
	model      *splat.Model
	rasterizer raster.Rasterizer
	intrinsics Intrinsics
	projection mgl64.Mat4
	logger     core.Logger
}

// New creates a dispatcher with validated intrinsics
func New(model *splat.Model, rasterizer raster.Rasterizer, intrinsics Intrinsics, logger core.Logger) (*Dispatcher, error) {
	if err := intrinsics.Validate(); err != nil {
		return nil, err
	}
	projection, err := intrinsics.Projection()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Dispatcher{
		model:      model,
		rasterizer: rasterizer,
		intrinsics: intrinsics,
		projection: projection,
		logger:     logger,
	}, nil
}

// Model returns the scene model the dispatcher renders from
func (d *Dispatcher) Model() *splat.Model {
	return d.model
}

// Intrinsics returns a copy of the current intrinsics
func (d *Dispatcher) Intrinsics() Intrinsics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.intrinsics
}

// Projection returns the cached projection matrix
func (d *Dispatcher) Projection() mgl64.Mat4 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.projection
}

// Render rasterizes the active scene from the given view. A scene with no
// visible primitives yields a frame filled with background.
func (d *Dispatcher) Render(ctx context.Context, view mgl64.Mat4, cameraCenter, background mgl64.Vec3, scaleModifier float64, mode Mode) (*Frame, error) {
	if err := ValidateScale(scaleModifier); err != nil {
		return nil, err
	}
	if mode != ModeColor && mode != ModeDepth {
		return nil, fmt.Errorf("unknown render mode %d: %w", int(mode), core.ErrInvalidParameter)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.render(ctx, view, cameraCenter, background, scaleModifier, mode)
}

// RenderPose renders from a camera pose using the current scale modifier and
// mode, reading them in the same critical section as the render.
func (d *Dispatcher) RenderPose(ctx context.Context, pose camera.Pose, background mgl64.Vec3) (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	view := camera.ViewMatrix(pose, d.intrinsics.ScaleModifier)
	return d.render(ctx, view, camera.Center(view), background, d.intrinsics.ScaleModifier, d.intrinsics.Mode)
}

// render must be called with d.mu held
func (d *Dispatcher) render(ctx context.Context, view mgl64.Mat4, cameraCenter, background mgl64.Vec3, scaleModifier float64, mode Mode) (*Frame, error) {
	start := time.Now()
	in := d.intrinsics

	frame := &Frame{Mode: mode}
	if id, ok := d.model.Snapshot(); ok {
		frame.Snapshot = id
	}

	set := d.model.Current()
	if set == nil || set.Len() == 0 {
		frame.Image = emptyImage(in, background, mode)
		frame.Elapsed = time.Since(start)
		return frame, nil
	}

	settings := raster.Settings{
		Width:         in.Width,
		Height:        in.Height,
		TanFovX:       math.Tan(in.FovXRadians() / 2),
		TanFovY:       math.Tan(in.FovYRadians() / 2),
		Background:    background,
		ScaleModifier: scaleModifier,
		View:          view,
		Proj:          d.projection.Mul4(view),
		CameraCenter:  cameraCenter,
	}

	result, err := d.rasterizer.Rasterize(ctx, settings, activate(set, cameraCenter))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrBackendFailure, err)
	}

	frame.Visible = result.Visible
	frame.Stats = result.Stats
	switch {
	case result.Visible == 0:
		frame.Image = emptyImage(in, background, mode)
	case mode == ModeDepth:
		frame.Image = &ImageBuffer{Width: in.Width, Height: in.Height, Channels: 1, Pix: result.Depth}
	default:
		frame.Image = &ImageBuffer{Width: in.Width, Height: in.Height, Channels: 3, Pix: result.Color}
	}
	frame.Elapsed = time.Since(start)
	return frame, nil
}

// activate resolves every primitive's renderable attributes, with SH colors
// evaluated toward cameraCenter
func activate(set *splat.Set, cameraCenter mgl64.Vec3) raster.Primitives {
	n := set.Len()
	prims := raster.Primitives{
		Means:     make([]mgl64.Vec3, n),
		Scales:    make([]mgl64.Vec3, n),
		Rotations: make([]mgl64.Quat, n),
		Opacities: make([]float64, n),
		Colors:    make([]mgl64.Vec3, n),
	}
	for i := 0; i < n; i++ {
		prims.Means[i] = set.Position(i)
		prims.Scales[i] = set.Scale(i)
		prims.Rotations[i] = set.Rotation(i)
		prims.Opacities[i] = set.Opacity(i)
		prims.Colors[i] = set.ViewColor(i, cameraCenter)
	}
	return prims
}

func emptyImage(in Intrinsics, background mgl64.Vec3, mode Mode) *ImageBuffer {
	if mode == ModeDepth {
		return NewImageBuffer(in.Width, in.Height, 1)
	}
	return Filled(in.Width, in.Height, background)
}

// UpdateFov sets the horizontal field of view in degrees and rebuilds the
// projection. The vertical field of view follows the image aspect ratio.
func (d *Dispatcher) UpdateFov(degrees float64) error {
	return d.mutate(func(in *Intrinsics) {
		in.FovX = degrees
	})
}

// SetScale sets the scale modifier, which must lie in (0, 1]
func (d *Dispatcher) SetScale(s float64) error {
	return d.mutate(func(in *Intrinsics) {
		in.ScaleModifier = s
	})
}

// SetMode switches between color and depth output
func (d *Dispatcher) SetMode(mode Mode) error {
	return d.mutate(func(in *Intrinsics) {
		in.Mode = mode
	})
}

// SetImageSize changes the output resolution
func (d *Dispatcher) SetImageSize(width, height int) error {
	return d.mutate(func(in *Intrinsics) {
		in.Width = width
		in.Height = height
	})
}

// SetClipPlanes changes the near and far planes
func (d *Dispatcher) SetClipPlanes(near, far float64) error {
	return d.mutate(func(in *Intrinsics) {
		in.Near = near
		in.Far = far
	})
}

// mutate applies change to a copy of the intrinsics and commits it together
// with the rebuilt projection only if both are valid
func (d *Dispatcher) mutate(change func(*Intrinsics)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.intrinsics
	change(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	projection, err := next.Projection()
	if err != nil {
		return err
	}

	d.intrinsics = next
	d.projection = projection
	return nil
}

// Reload replaces the active scene with snapshot id. The snapshot is read
// outside the critical section and swapped in under it. Overlapping reloads
// apply in the order they were requested. On failure the previous scene
// stays active.
func (d *Dispatcher) Reload(ctx context.Context, id splat.SnapshotID) error {
	set, err := d.model.LoadGuarded(ctx, id, &d.mu)
	if err != nil {
		return err
	}

	d.logger.Printf("Loaded snapshot %d (%d splats, sh degree %d)\n", id, set.Len(), set.Degree())
	return nil
}
