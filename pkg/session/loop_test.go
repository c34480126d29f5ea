package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/camera"
	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/raster"
	"github.com/seung0h/web-3dgs/pkg/renderer"
	"github.com/seung0h/web-3dgs/pkg/splat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink keeps every frame and fault it receives
type recordingSink struct {
	mu     sync.Mutex
	frames []*renderer.Frame
	faults []error
	fail   error
}

func (s *recordingSink) Deliver(_ context.Context, frame *renderer.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) Fault(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, err)
}

func (s *recordingSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *recordingSink) lastFrame() *renderer.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// fakeDispatcher renders blank frames and can be told to fail
type fakeDispatcher struct {
	mu      sync.Mutex
	model   *splat.Model
	renders []camera.Pose
	failing error
	fov     float64
	scale   float64
	mode    renderer.Mode
	onRender func() // runs once, during the next render
}

func newFakeDispatcher(t *testing.T, positions ...mgl64.Vec3) *fakeDispatcher {
	t.Helper()
	prims := make([]splat.Primitive, len(positions))
	for i, p := range positions {
		prims[i] = splat.Primitive{Position: p, Rotation: [4]float32{1, 0, 0, 0}, SH: [][3]float32{{}}}
	}
	set, err := splat.FromPrimitives(prims, 0)
	require.NoError(t, err)
	return &fakeDispatcher{model: splat.NewStaticModel(set, 30000), fov: 72, scale: 1}
}

func (d *fakeDispatcher) RenderPose(_ context.Context, pose camera.Pose, background mgl64.Vec3) (*renderer.Frame, error) {
	d.mu.Lock()
	d.renders = append(d.renders, pose)
	err := d.failing
	mode := d.mode
	hook := d.onRender
	d.onRender = nil
	d.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrBackendFailure, err)
	}
	return &renderer.Frame{Image: renderer.Filled(2, 2, background), Mode: mode}, nil
}

func (d *fakeDispatcher) UpdateFov(degrees float64) error {
	if degrees <= 0 || degrees >= 180 {
		return core.ErrInvalidParameter
	}
	d.fov = degrees
	return nil
}

func (d *fakeDispatcher) SetScale(s float64) error {
	if err := renderer.ValidateScale(s); err != nil {
		return err
	}
	d.scale = s
	return nil
}

func (d *fakeDispatcher) SetMode(mode renderer.Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
	return nil
}

func (d *fakeDispatcher) Reload(_ context.Context, id splat.SnapshotID) error {
	return fmt.Errorf("iteration %d: %w", id, core.ErrSnapshotNotFound)
}

func (d *fakeDispatcher) Model() *splat.Model {
	return d.model
}

func (d *fakeDispatcher) setFailing(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = err
}

func (d *fakeDispatcher) renderCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.renders)
}

func state(t *testing.T, loop *Loop, id string) State {
	t.Helper()
	info, ok := loop.Session(id)
	require.True(t, ok)
	return info.State
}

func TestConnectAimsAtCentroidAndDeliversFirstFrame(t *testing.T) {
	set, err := splat.FromPrimitives([]splat.Primitive{
		{Position: mgl64.Vec3{-1, 0, 5}, Rotation: [4]float32{1, 0, 0, 0}, Opacity: 2, SH: [][3]float32{{1, 1, 1}}},
		{Position: mgl64.Vec3{1, 0, 5}, Rotation: [4]float32{1, 0, 0, 0}, Opacity: 2, SH: [][3]float32{{1, 1, 1}}},
		{Position: mgl64.Vec3{0, -1, 5}, Rotation: [4]float32{1, 0, 0, 0}, Opacity: 2, SH: [][3]float32{{1, 1, 1}}},
		{Position: mgl64.Vec3{0, 1, 5}, Rotation: [4]float32{1, 0, 0, 0}, Opacity: 2, SH: [][3]float32{{1, 1, 1}}},
	}, 0)
	require.NoError(t, err)

	intrinsics := renderer.DefaultIntrinsics()
	require.Equal(t, 72.0, intrinsics.FovX)
	require.Equal(t, 800, intrinsics.Width)
	require.Equal(t, 800, intrinsics.Height)

	dispatcher, err := renderer.New(splat.NewStaticModel(set, 30000), raster.NewCPU(raster.DefaultConfig()), intrinsics, core.NopLogger{})
	require.NoError(t, err)

	config := DefaultConfig()
	config.InitialPose = camera.NewPose(mgl64.QuatIdent(), mgl64.Vec3{2, -1, 0})
	loop := NewLoop(dispatcher, config, core.NopLogger{})
	sink := &recordingSink{}

	id := loop.Connect(context.Background(), sink)

	info, ok := loop.Session(id)
	require.True(t, ok)
	assert.Equal(t, mgl64.Vec3{0, 0, 5}, info.Target)
	assert.Equal(t, mgl64.Vec3{2, -1, 0}, info.Position)
	expected := mgl64.Vec3{0, 0, 5}.Sub(info.Position).Normalize()
	assert.InDelta(t, 0, info.Pose.Forward().Sub(expected).Len(), 1e-9)

	// the frame arrives before any camera update
	require.Equal(t, 1, sink.frameCount())
	frame := sink.lastFrame()
	assert.Equal(t, 4, frame.Visible)
	assert.Equal(t, 800, frame.Image.Width)
	assert.Equal(t, Clean, info.State)
	assert.Equal(t, 1, info.Frames)
}

func TestConnectWithoutSceneLooksAlongInitialPose(t *testing.T) {
	dispatcher := &fakeDispatcher{model: splat.NewModel(nil)}
	loop := NewLoop(dispatcher, DefaultConfig(), nil)

	id := loop.Connect(context.Background(), &recordingSink{})

	info, _ := loop.Session(id)
	assert.Equal(t, mgl64.Vec3{0, 0, 1}, info.Target)
	assert.InDelta(t, 0, info.Pose.Forward().Sub(mgl64.Vec3{0, 0, 1}).Len(), 1e-12)
}

func TestDirtyIsolationBetweenClients(t *testing.T) {
	dispatcher := newFakeDispatcher(t, mgl64.Vec3{0, 0, 5})
	loop := NewLoop(dispatcher, DefaultConfig(), core.NopLogger{})
	sinkA, sinkB := &recordingSink{}, &recordingSink{}

	a := loop.Connect(context.Background(), sinkA)
	b := loop.Connect(context.Background(), sinkB)
	require.Equal(t, 1, sinkA.frameCount())
	require.Equal(t, 1, sinkB.frameCount())
	lastB := sinkB.lastFrame()

	moved := camera.NewPose(mgl64.QuatRotate(0.3, mgl64.Vec3{0, 1, 0}), mgl64.Vec3{1, 0, 0})
	require.NoError(t, loop.UpdateCamera(a, moved))
	assert.Equal(t, Dirty, state(t, loop, a))
	assert.Equal(t, Clean, state(t, loop, b))

	delivered := loop.Tick(context.Background())

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 2, sinkA.frameCount())
	assert.Equal(t, 1, sinkB.frameCount())
	assert.Same(t, lastB, sinkB.lastFrame())
	assert.Equal(t, Clean, state(t, loop, a))
	assert.Equal(t, Clean, state(t, loop, b))
	assert.Equal(t, moved, dispatcher.renders[len(dispatcher.renders)-1])

	// nothing dirty, nothing rendered
	assert.Equal(t, 0, loop.Tick(context.Background()))
	assert.Equal(t, 3, dispatcher.renderCount())
}

func TestControlEventsMarkAllSessionsDirty(t *testing.T) {
	dispatcher := newFakeDispatcher(t, mgl64.Vec3{0, 0, 5})
	loop := NewLoop(dispatcher, DefaultConfig(), core.NopLogger{})
	ids := []string{
		loop.Connect(context.Background(), &recordingSink{}),
		loop.Connect(context.Background(), &recordingSink{}),
		loop.Connect(context.Background(), &recordingSink{}),
	}

	tests := []struct {
		name  string
		event Event
		check func(t *testing.T)
	}{
		{"fov", FovChanged{Degrees: 50}, func(t *testing.T) { assert.Equal(t, 50.0, dispatcher.fov) }},
		{"scale", ScaleChanged{Scale: 0.5}, func(t *testing.T) { assert.Equal(t, 0.5, dispatcher.scale) }},
		{"mode", ModeChanged{Mode: renderer.ModeDepth}, func(t *testing.T) { assert.Equal(t, renderer.ModeDepth, dispatcher.mode) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, loop.Apply(context.Background(), tt.event))
			tt.check(t)
			for _, id := range ids {
				assert.Equal(t, Dirty, state(t, loop, id))
			}
			assert.Equal(t, len(ids), loop.Tick(context.Background()))
			for _, id := range ids {
				assert.Equal(t, Clean, state(t, loop, id))
			}
		})
	}
}

func TestRejectedEventChangesNothing(t *testing.T) {
	dispatcher := newFakeDispatcher(t, mgl64.Vec3{0, 0, 5})
	loop := NewLoop(dispatcher, DefaultConfig(), core.NopLogger{})
	id := loop.Connect(context.Background(), &recordingSink{})

	tests := []Event{
		ScaleChanged{Scale: 0},
		FovChanged{Degrees: 200},
		SnapshotChanged{ID: 1},
	}
	for _, event := range tests {
		t.Run(event.String(), func(t *testing.T) {
			err := loop.Apply(context.Background(), event)
			assert.Error(t, err)
			assert.Equal(t, Clean, state(t, loop, id))
		})
	}
	assert.Equal(t, 1.0, dispatcher.scale)
	assert.Equal(t, 72.0, dispatcher.fov)

	err := loop.Apply(context.Background(), SnapshotChanged{ID: 1})
	assert.True(t, errors.Is(err, core.ErrSnapshotNotFound))
}

func TestBackendFailureRetriesThenFaults(t *testing.T) {
	dispatcher := newFakeDispatcher(t, mgl64.Vec3{0, 0, 5})
	config := DefaultConfig()
	config.MaxConsecutiveFailures = 3
	loop := NewLoop(dispatcher, config, core.NopLogger{})
	sink := &recordingSink{}
	id := loop.Connect(context.Background(), sink)

	dispatcher.setFailing(errors.New("device lost"))
	require.NoError(t, loop.UpdateCamera(id, camera.IdentityPose()))

	for i := 1; i <= 2; i++ {
		assert.Equal(t, 0, loop.Tick(context.Background()))
		info, _ := loop.Session(id)
		assert.Equal(t, Dirty, info.State, "tick %d", i)
		assert.Equal(t, i, info.Failures)
	}
	assert.Empty(t, sink.faults)

	loop.Tick(context.Background())
	assert.Equal(t, Faulted, state(t, loop, id))
	require.Len(t, sink.faults, 1)
	assert.True(t, errors.Is(sink.faults[0], core.ErrBackendFailure))

	// faulted sessions are not retried
	renders := dispatcher.renderCount()
	loop.Tick(context.Background())
	assert.Equal(t, renders, dispatcher.renderCount())
	assert.Len(t, sink.faults, 1)

	// a camera change re-arms the session
	dispatcher.setFailing(nil)
	require.NoError(t, loop.UpdateCamera(id, camera.IdentityPose()))
	assert.Equal(t, 1, loop.Tick(context.Background()))
	info, _ := loop.Session(id)
	assert.Equal(t, Clean, info.State)
	assert.Equal(t, 0, info.Failures)
}

func TestFailedFirstRenderLeavesSessionDirty(t *testing.T) {
	dispatcher := newFakeDispatcher(t, mgl64.Vec3{0, 0, 5})
	dispatcher.setFailing(errors.New("busy"))
	loop := NewLoop(dispatcher, DefaultConfig(), core.NopLogger{})
	sink := &recordingSink{}

	id := loop.Connect(context.Background(), sink)

	assert.Equal(t, Dirty, state(t, loop, id))
	assert.Equal(t, 0, sink.frameCount())

	dispatcher.setFailing(nil)
	assert.Equal(t, 1, loop.Tick(context.Background()))
	assert.Equal(t, 1, sink.frameCount())
}

func TestDeliveryFailureCountsAsFailure(t *testing.T) {
	dispatcher := newFakeDispatcher(t, mgl64.Vec3{0, 0, 5})
	loop := NewLoop(dispatcher, DefaultConfig(), core.NopLogger{})
	sink := &recordingSink{fail: errors.New("broken pipe")}

	id := loop.Connect(context.Background(), sink)

	info, _ := loop.Session(id)
	assert.Equal(t, Dirty, info.State)
	assert.Equal(t, 1, info.Failures)
}

func TestCameraMoveDuringRenderKeepsSessionDirty(t *testing.T) {
	dispatcher := newFakeDispatcher(t, mgl64.Vec3{0, 0, 5})
	loop := NewLoop(dispatcher, DefaultConfig(), core.NopLogger{})
	id := loop.Connect(context.Background(), &recordingSink{})
	require.NoError(t, loop.UpdateCamera(id, camera.IdentityPose()))

	// a pose update lands while the frame for the previous pose is rendering
	dispatcher.onRender = func() {
		require.NoError(t, loop.UpdateCamera(id, camera.NewPose(mgl64.QuatIdent(), mgl64.Vec3{0, 0, 1})))
	}

	assert.Equal(t, 1, loop.Tick(context.Background()))
	assert.Equal(t, Dirty, state(t, loop, id))

	assert.Equal(t, 1, loop.Tick(context.Background()))
	assert.Equal(t, Clean, state(t, loop, id))
}

func TestChangeDuringFirstRenderDeliversNewestFrameLast(t *testing.T) {
	dispatcher := newFakeDispatcher(t, mgl64.Vec3{0, 0, 5})
	loop := NewLoop(dispatcher, DefaultConfig(), core.NopLogger{})
	sink := &recordingSink{}

	// a mode change lands and a tick starts while the first frame renders
	tickDone := make(chan int, 1)
	dispatcher.onRender = func() {
		require.NoError(t, loop.Apply(context.Background(), ModeChanged{Mode: renderer.ModeDepth}))
		go func() { tickDone <- loop.Tick(context.Background()) }()
		time.Sleep(50 * time.Millisecond)
	}

	id := loop.Connect(context.Background(), sink)
	assert.Equal(t, 1, <-tickDone)

	require.Equal(t, 2, sink.frameCount())
	assert.Equal(t, renderer.ModeDepth, sink.lastFrame().Mode)
	assert.Equal(t, Clean, state(t, loop, id))
}

func TestUpdateCameraUnknownSession(t *testing.T) {
	loop := NewLoop(newFakeDispatcher(t), DefaultConfig(), core.NopLogger{})
	err := loop.UpdateCamera("missing", camera.IdentityPose())
	assert.True(t, errors.Is(err, ErrUnknownSession))
}

func TestDisconnectRemovesSession(t *testing.T) {
	dispatcher := newFakeDispatcher(t, mgl64.Vec3{0, 0, 5})
	loop := NewLoop(dispatcher, DefaultConfig(), core.NopLogger{})
	a := loop.Connect(context.Background(), &recordingSink{})
	b := loop.Connect(context.Background(), &recordingSink{})

	loop.Disconnect(a)
	loop.Disconnect("never-connected")

	sessions := loop.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, b, sessions[0].ID)

	loop.MarkAllDirty()
	assert.Equal(t, 1, loop.Tick(context.Background()))
}

func TestRunTicksUntilCancelled(t *testing.T) {
	dispatcher := newFakeDispatcher(t, mgl64.Vec3{0, 0, 5})
	config := DefaultConfig()
	config.TickInterval = time.Millisecond
	loop := NewLoop(dispatcher, config, core.NopLogger{})
	sink := &recordingSink{}
	id := loop.Connect(context.Background(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.NoError(t, loop.UpdateCamera(id, camera.IdentityPose()))
	assert.Eventually(t, func() bool { return sink.frameCount() == 2 }, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "clean", Clean.String())
	assert.Equal(t, "dirty", Dirty.String())
	assert.Equal(t, "faulted", Faulted.String())
}
