package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/seung0h/web-3dgs/pkg/camera"
	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/renderer"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

// Dispatcher is the render surface the loop drives
type Dispatcher interface {
	RenderPose(ctx context.Context, pose camera.Pose, background mgl64.Vec3) (*renderer.Frame, error)
	UpdateFov(degrees float64) error
	SetScale(s float64) error
	SetMode(mode renderer.Mode) error
	Reload(ctx context.Context, id splat.SnapshotID) error
	Model() *splat.Model
}

// Config contains the loop's scheduling parameters
type Config struct {
	TickInterval           time.Duration // How often dirty sessions are scanned
	MaxConsecutiveFailures int           // Failed renders before a session is faulted
	Background             mgl64.Vec3    // Color behind the scene
	InitialPose            camera.Pose   // Pose a new session starts from before aiming
}

// DefaultConfig returns sensible default values
func DefaultConfig() Config {
	return Config{
		TickInterval:           time.Second / 60,
		MaxConsecutiveFailures: 3,
		Background:             mgl64.Vec3{0, 0, 0},
		InitialPose:            camera.IdentityPose(),
	}
}

// Loop owns every connected session and renders the dirty ones on each tick
type Loop struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	order      []string // connect order, for deterministic ticks
	dispatcher Dispatcher
	config     Config
	logger     core.Logger
}

// NewLoop creates a loop around a dispatcher
func NewLoop(dispatcher Dispatcher, config Config, logger core.Logger) *Loop {
	defaults := DefaultConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = defaults.MaxConsecutiveFailures
	}
	if config.InitialPose.Rotation.Len() == 0 {
		config.InitialPose = defaults.InitialPose
	}
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Loop{
		sessions:   make(map[string]*Session),
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
	}
}

// Connect registers a viewer, aims its camera at the scene centroid and
// renders its first frame before returning. A failed first render is logged
// and left for the next tick.
func (l *Loop) Connect(ctx context.Context, sink Sink) string {
	pose := l.config.InitialPose.Normalize()
	target := pose.Position.Add(pose.Forward())
	if set := l.dispatcher.Model().Current(); set != nil && set.Len() > 0 {
		target = set.MeanPosition()
	}
	pose = pose.LookAt(target, camera.DefaultUp)

	s := &Session{
		id:        uuid.NewString(),
		sink:      sink,
		pose:      pose,
		target:    target,
		state:     Clean,
		connected: time.Now(),
	}

	l.mu.Lock()
	l.sessions[s.id] = s
	l.order = append(l.order, s.id)
	l.mu.Unlock()

	l.logger.Printf("Client %s connected, looking at (%.3f, %.3f, %.3f)\n", s.id, target[0], target[1], target[2])
	l.renderSession(ctx, s.id, pose, 0)
	return s.id
}

// Disconnect forgets a session
func (l *Loop) Disconnect(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sessions[id]; !ok {
		return
	}
	delete(l.sessions, id)
	for i, other := range l.order {
		if other == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.logger.Printf("Client %s disconnected\n", id)
}

// UpdateCamera stores a new pose for a session and marks it dirty
func (l *Loop) UpdateCamera(id string, pose camera.Pose) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrUnknownSession)
	}
	s.pose = pose.Normalize()
	s.markDirty()
	return nil
}

// MarkAllDirty schedules a new frame for every session
func (l *Loop) MarkAllDirty() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.sessions {
		s.markDirty()
	}
}

// Apply forwards a control event to the dispatcher and, if accepted, marks
// every session dirty. A rejected event changes nothing.
func (l *Loop) Apply(ctx context.Context, event Event) error {
	if err := event.apply(ctx, l.dispatcher); err != nil {
		l.logger.Printf("Rejected %s: %v\n", event, err)
		return err
	}
	l.MarkAllDirty()
	l.logger.Printf("Applied %s\n", event)
	return nil
}

// Tick renders and delivers a frame to every dirty session and returns how
// many frames were delivered. Clean and faulted sessions are skipped.
func (l *Loop) Tick(ctx context.Context) int {
	type job struct {
		id         string
		pose       camera.Pose
		generation uint64
	}

	l.mu.Lock()
	var jobs []job
	for _, id := range l.order {
		s := l.sessions[id]
		if s.state == Dirty {
			jobs = append(jobs, job{id: id, pose: s.pose, generation: s.generation})
		}
	}
	l.mu.Unlock()

	delivered := 0
	for _, j := range jobs {
		if l.renderSession(ctx, j.id, j.pose, j.generation) {
			delivered++
		}
	}
	return delivered
}

// renderSession renders pose for one session and delivers the frame. The
// session becomes clean only if nothing changed since generation was read.
// Renders for one session run one at a time, and a frame older than one
// already delivered is dropped.
func (l *Loop) renderSession(ctx context.Context, id string, pose camera.Pose, generation uint64) bool {
	l.mu.Lock()
	s, ok := l.sessions[id]
	l.mu.Unlock()
	if !ok {
		return false
	}

	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	l.mu.Lock()
	stale := s.frames > 0 && generation < s.delivered
	l.mu.Unlock()
	if stale {
		return false
	}

	frame, err := l.dispatcher.RenderPose(ctx, pose, l.config.Background)
	if err == nil {
		err = s.sink.Deliver(ctx, frame)
		if err != nil {
			err = fmt.Errorf("deliver frame: %w", err)
		}
	}

	l.mu.Lock()
	if err != nil {
		faulted := l.recordFailure(s, err)
		l.mu.Unlock()
		if faulted {
			s.sink.Fault(err)
		}
		return false
	}

	s.failures = 0
	s.frames++
	s.delivered = generation
	s.lastFrame = time.Now()
	if s.generation == generation {
		s.state = Clean
	}
	l.mu.Unlock()
	return true
}

// recordFailure must be called with l.mu held. It reports whether the session
// just became faulted.
func (l *Loop) recordFailure(s *Session, err error) bool {
	s.failures++
	l.logger.Printf("Render for client %s failed (%d/%d): %v\n", s.id, s.failures, l.config.MaxConsecutiveFailures, err)

	if s.state == Faulted {
		return false
	}
	if s.failures >= l.config.MaxConsecutiveFailures {
		s.state = Faulted
		l.logger.Printf("Client %s faulted after %d consecutive failures\n", s.id, s.failures)
		return true
	}
	// keep retrying on the next tick
	s.state = Dirty
	return false
}

// Run ticks until ctx is done
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Session returns a copy of one session's state
func (l *Loop) Session(id string) (Info, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[id]
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// Sessions returns every session in connect order
func (l *Loop) Sessions() []Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	infos := make([]Info, 0, len(l.order))
	for _, id := range l.order {
		infos = append(infos, l.sessions[id].info())
	}
	return infos
}

// Pose returns a session's current camera pose
func (l *Loop) Pose(id string) (camera.Pose, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[id]
	if !ok {
		return camera.Pose{}, fmt.Errorf("session %s: %w", id, ErrUnknownSession)
	}
	return s.pose, nil
}
