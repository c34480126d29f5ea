package renderer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/seung0h/web-3dgs/pkg/camera"
	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/raster"
	"github.com/seung0h/web-3dgs/pkg/splat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRasterizer captures its inputs and returns a fixed result
type recordingRasterizer struct {
	settings raster.Settings
	prims    raster.Primitives
	visible  int
	err      error
	release  chan struct{} // when set, Rasterize blocks until closed
	started  chan struct{}
}

func (r *recordingRasterizer) Rasterize(_ context.Context, settings raster.Settings, prims raster.Primitives) (*raster.Result, error) {
	if r.started != nil {
		close(r.started)
	}
	if r.release != nil {
		<-r.release
	}
	r.settings = settings
	r.prims = prims
	if r.err != nil {
		return nil, r.err
	}
	return &raster.Result{
		Width:   settings.Width,
		Height:  settings.Height,
		Color:   make([]float64, settings.Width*settings.Height*3),
		Depth:   make([]float64, settings.Width*settings.Height),
		Radii:   make([]int, prims.Len()),
		Visible: r.visible,
	}, nil
}

type mapLoader map[splat.SnapshotID]*splat.Set

func (l mapLoader) Load(_ context.Context, id splat.SnapshotID) (*splat.Set, error) {
	set, ok := l[id]
	if !ok {
		return nil, fmt.Errorf("iteration %d: %w", id, core.ErrSnapshotNotFound)
	}
	return set, nil
}

// gatedLoader blocks loads of the gated snapshot until release is closed
type gatedLoader struct {
	sets    mapLoader
	gated   splat.SnapshotID
	started chan struct{}
	release chan struct{}
}

func (l *gatedLoader) Load(ctx context.Context, id splat.SnapshotID) (*splat.Set, error) {
	if id == l.gated {
		close(l.started)
		<-l.release
	}
	return l.sets.Load(ctx, id)
}

func sceneOf(t *testing.T, prims ...splat.Primitive) *splat.Set {
	t.Helper()
	set, err := splat.FromPrimitives(prims, 0)
	require.NoError(t, err)
	return set
}

func gaussian(pos mgl64.Vec3, rgb mgl64.Vec3, scale, opacity float64) splat.Primitive {
	s := float32(math.Log(scale))
	return splat.Primitive{
		Position: pos,
		LogScale: [3]float32{s, s, s},
		Rotation: [4]float32{1, 0, 0, 0},
		Opacity:  splat.InverseSigmoid(opacity),
		SH:       [][3]float32{splat.RGBToSH(rgb)},
	}
}

func newDispatcher(t *testing.T, set *splat.Set, rasterizer raster.Rasterizer, intrinsics Intrinsics) *Dispatcher {
	t.Helper()
	d, err := New(splat.NewStaticModel(set, 30000), rasterizer, intrinsics, core.NopLogger{})
	require.NoError(t, err)
	return d
}

func smallIntrinsics(size int) Intrinsics {
	in := DefaultIntrinsics()
	in.Width = size
	in.Height = size
	return in
}

func TestUpdateFovIsIdempotent(t *testing.T) {
	d := newDispatcher(t, sceneOf(t), &recordingRasterizer{}, DefaultIntrinsics())

	require.NoError(t, d.UpdateFov(55.5))
	first := d.Projection()
	require.NoError(t, d.UpdateFov(55.5))
	second := d.Projection()
	assert.True(t, first == second, "projection changed between identical updates")

	require.NoError(t, d.UpdateFov(90))
	assert.NotEqual(t, first, d.Projection())
	require.NoError(t, d.UpdateFov(55.5))
	assert.True(t, first == d.Projection())
}

func TestUpdateFovDerivesVerticalFromAspect(t *testing.T) {
	in := DefaultIntrinsics()
	in.Width, in.Height = 960, 540
	d := newDispatcher(t, sceneOf(t), &recordingRasterizer{}, in)

	proj := d.Projection()
	tanX := math.Tan(mgl64.DegToRad(72) / 2)
	assert.InDelta(t, 1/tanX, proj.At(0, 0), 1e-12)
	assert.InDelta(t, 1/(tanX*540/960), proj.At(1, 1), 1e-12)
}

func TestInvalidParametersLeaveIntrinsicsUnchanged(t *testing.T) {
	d := newDispatcher(t, sceneOf(t, gaussian(mgl64.Vec3{0, 0, 5}, mgl64.Vec3{1, 1, 1}, 0.1, 0.9)), &recordingRasterizer{}, DefaultIntrinsics())
	before := d.Intrinsics()
	projection := d.Projection()
	view := camera.ViewMatrix(camera.IdentityPose(), 1)

	for _, s := range []float64{0, -0.5, 1.0001, math.NaN(), math.Inf(1)} {
		t.Run(fmt.Sprintf("render scale %g", s), func(t *testing.T) {
			_, err := d.Render(context.Background(), view, mgl64.Vec3{}, mgl64.Vec3{}, s, ModeColor)
			assert.True(t, errors.Is(err, core.ErrInvalidParameter), "got %v", err)
			assert.Empty(t, cmp.Diff(before, d.Intrinsics()))
		})
	}

	mutations := []struct {
		name string
		fn   func() error
	}{
		{"scale zero", func() error { return d.SetScale(0) }},
		{"scale above one", func() error { return d.SetScale(2) }},
		{"fov zero", func() error { return d.UpdateFov(0) }},
		{"fov straight", func() error { return d.UpdateFov(180) }},
		{"near zero", func() error { return d.SetClipPlanes(0, 100) }},
		{"near beyond far", func() error { return d.SetClipPlanes(10, 1) }},
		{"empty image", func() error { return d.SetImageSize(0, 600) }},
		{"unknown mode", func() error { return d.SetMode(Mode(7)) }},
	}
	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			assert.True(t, errors.Is(err, core.ErrInvalidParameter), "got %v", err)
			assert.Empty(t, cmp.Diff(before, d.Intrinsics()))
			assert.True(t, projection == d.Projection())
		})
	}
}

func TestRenderPassesResolvedPrimitives(t *testing.T) {
	rec := &recordingRasterizer{visible: 1}
	set := sceneOf(t, gaussian(mgl64.Vec3{0, 0, 5}, mgl64.Vec3{0.2, 0.4, 0.6}, 0.5, 0.75))
	in := DefaultIntrinsics()
	in.Width, in.Height = 64, 32
	d := newDispatcher(t, set, rec, in)

	pose := camera.NewPose(mgl64.QuatIdent(), mgl64.Vec3{0, 0, -1})
	view := camera.ViewMatrix(pose, 0.5)
	frame, err := d.Render(context.Background(), view, camera.Center(view), mgl64.Vec3{1, 1, 1}, 0.5, ModeColor)
	require.NoError(t, err)

	assert.Equal(t, 64, rec.settings.Width)
	assert.Equal(t, 32, rec.settings.Height)
	assert.Equal(t, 0.5, rec.settings.ScaleModifier)
	assert.Equal(t, d.Projection().Mul4(view), rec.settings.Proj)
	assert.InDelta(t, math.Tan(mgl64.DegToRad(36))/2, rec.settings.TanFovY, 1e-12)

	require.Equal(t, 1, rec.prims.Len())
	assert.InDelta(t, 0.75, rec.prims.Opacities[0], 1e-6)
	assert.InDelta(t, 0, rec.prims.Scales[0].Sub(mgl64.Vec3{0.5, 0.5, 0.5}).Len(), 1e-6)
	assert.InDelta(t, 0, rec.prims.Colors[0].Sub(mgl64.Vec3{0.2, 0.4, 0.6}).Len(), 1e-6)

	assert.Equal(t, ModeColor, frame.Mode)
	assert.Equal(t, splat.SnapshotID(30000), frame.Snapshot)
	assert.Equal(t, 3, frame.Image.Channels)
}

func TestRenderBackendFailure(t *testing.T) {
	rec := &recordingRasterizer{err: errors.New("out of memory")}
	d := newDispatcher(t, sceneOf(t, gaussian(mgl64.Vec3{0, 0, 5}, mgl64.Vec3{1, 1, 1}, 0.1, 0.9)), rec, smallIntrinsics(8))

	_, err := d.RenderPose(context.Background(), camera.IdentityPose(), mgl64.Vec3{})
	assert.True(t, errors.Is(err, core.ErrBackendFailure))
	assert.ErrorContains(t, err, "out of memory")
}

func TestRenderInvisiblePrimitiveAtCameraCenterIsBackground(t *testing.T) {
	background := mgl64.Vec3{0.1, 0.2, 0.3}
	set := sceneOf(t, gaussian(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, 1, 0))
	d := newDispatcher(t, set, raster.NewCPU(raster.DefaultConfig()), smallIntrinsics(24))

	frame, err := d.RenderPose(context.Background(), camera.IdentityPose(), background)
	require.NoError(t, err)

	assert.Equal(t, 0, frame.Visible)
	assert.Equal(t, Filled(24, 24, background).Pix, frame.Image.Pix)
}

func TestRenderWithoutSceneIsBackground(t *testing.T) {
	model := splat.NewModel(mapLoader{})
	d, err := New(model, &recordingRasterizer{}, smallIntrinsics(4), nil)
	require.NoError(t, err)

	frame, err := d.RenderPose(context.Background(), camera.IdentityPose(), mgl64.Vec3{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, Filled(4, 4, mgl64.Vec3{1, 0, 0}), frame.Image)
}

func TestDepthModeUniformScene(t *testing.T) {
	const depth = 3.0
	var prims []splat.Primitive
	for y := -1.0; y <= 1; y += 0.25 {
		for x := -1.0; x <= 1; x += 0.25 {
			p := gaussian(mgl64.Vec3{x, y, depth}, mgl64.Vec3{0.5, 0.5, 0.5}, 0.2, 0.9)
			p.LogScale[2] = float32(math.Log(0.001))
			prims = append(prims, p)
		}
	}
	d := newDispatcher(t, sceneOf(t, prims...), raster.NewCPU(raster.DefaultConfig()), smallIntrinsics(32))
	require.NoError(t, d.SetMode(ModeDepth))

	frame, err := d.RenderPose(context.Background(), camera.IdentityPose(), mgl64.Vec3{})
	require.NoError(t, err)

	require.Equal(t, 1, frame.Image.Channels)
	assert.InDelta(t, depth, frame.Image.Max(), 1e-9)

	display := frame.Display()
	require.Equal(t, 3, display.Channels)
	for i := 0; i < len(display.Pix); i += 3 {
		if v := display.Pix[i]; v != 0 {
			require.InDelta(t, 1.0, v, 1e-9)
			require.Equal(t, v, display.Pix[i+1])
			require.Equal(t, v, display.Pix[i+2])
		}
	}
}

func TestReloadMissingSnapshotKeepsScene(t *testing.T) {
	first := sceneOf(t,
		gaussian(mgl64.Vec3{0, 0, 5}, mgl64.Vec3{1, 1, 1}, 0.1, 0.9),
		gaussian(mgl64.Vec3{1, 0, 5}, mgl64.Vec3{1, 1, 1}, 0.1, 0.9),
	)
	model := splat.NewModel(mapLoader{7000: first})
	require.NoError(t, model.Load(context.Background(), 7000))
	d, err := New(model, &recordingRasterizer{}, DefaultIntrinsics(), core.NopLogger{})
	require.NoError(t, err)

	err = d.Reload(context.Background(), 30000)
	assert.True(t, errors.Is(err, core.ErrSnapshotNotFound))

	current := d.Model().Current()
	require.Equal(t, 2, current.Len())
	assert.Equal(t, mgl64.Vec3{0, 0, 5}, current.Position(0))
	assert.Equal(t, mgl64.Vec3{1, 0, 5}, current.Position(1))
	id, _ := d.Model().Snapshot()
	assert.Equal(t, splat.SnapshotID(7000), id)
}

func TestReloadSwapsScene(t *testing.T) {
	first := sceneOf(t, gaussian(mgl64.Vec3{0, 0, 5}, mgl64.Vec3{1, 1, 1}, 0.1, 0.9))
	second := sceneOf(t, gaussian(mgl64.Vec3{0, 0, 6}, mgl64.Vec3{1, 1, 1}, 0.1, 0.9))
	model := splat.NewModel(mapLoader{7000: first, 30000: second})
	require.NoError(t, model.Load(context.Background(), 7000))
	d, err := New(model, &recordingRasterizer{}, DefaultIntrinsics(), core.NopLogger{})
	require.NoError(t, err)

	require.NoError(t, d.Reload(context.Background(), 30000))
	assert.Same(t, second, d.Model().Current())
}

func TestOverlappingReloadsApplyInRequestOrder(t *testing.T) {
	slow := sceneOf(t, gaussian(mgl64.Vec3{0, 0, 5}, mgl64.Vec3{1, 1, 1}, 0.1, 0.9))
	fast := sceneOf(t, gaussian(mgl64.Vec3{0, 0, 6}, mgl64.Vec3{1, 1, 1}, 0.1, 0.9))
	loader := &gatedLoader{
		sets:    mapLoader{7000: slow, 30000: fast},
		gated:   7000,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	d, err := New(splat.NewModel(loader), &recordingRasterizer{}, DefaultIntrinsics(), core.NopLogger{})
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() { firstDone <- d.Reload(context.Background(), 7000) }()
	<-loader.started

	secondDone := make(chan error, 1)
	go func() { secondDone <- d.Reload(context.Background(), 30000) }()

	select {
	case <-secondDone:
		t.Fatal("later reload finished while an earlier one was still loading")
	case <-time.After(50 * time.Millisecond):
	}

	close(loader.release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	assert.Same(t, fast, d.Model().Current())
	id, _ := d.Model().Snapshot()
	assert.Equal(t, splat.SnapshotID(30000), id)
}

func TestMutationWaitsForInFlightRender(t *testing.T) {
	rec := &recordingRasterizer{release: make(chan struct{}), started: make(chan struct{})}
	d := newDispatcher(t, sceneOf(t, gaussian(mgl64.Vec3{0, 0, 5}, mgl64.Vec3{1, 1, 1}, 0.1, 0.9)), rec, smallIntrinsics(8))

	renderDone := make(chan error, 1)
	go func() {
		_, err := d.RenderPose(context.Background(), camera.IdentityPose(), mgl64.Vec3{})
		renderDone <- err
	}()
	<-rec.started

	var updated atomic.Bool
	updateDone := make(chan struct{})
	go func() {
		_ = d.UpdateFov(40)
		updated.Store(true)
		close(updateDone)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, updated.Load(), "fov changed during an in-flight render")

	close(rec.release)
	require.NoError(t, <-renderDone)
	<-updateDone
	assert.Equal(t, 40.0, d.Intrinsics().FovX)
}

func TestNewRejectsInvalidIntrinsics(t *testing.T) {
	in := DefaultIntrinsics()
	in.ScaleModifier = 0
	_, err := New(splat.NewModel(mapLoader{}), &recordingRasterizer{}, in, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidParameter))
}
