// Package session tracks connected viewers and drives the change-triggered
// render and delivery loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/camera"
	"github.com/seung0h/web-3dgs/pkg/renderer"
)

// ErrUnknownSession is returned for operations on a disconnected or unknown session
var ErrUnknownSession = errors.New("unknown session")

// State is a session's position in the render state machine
type State int

const (
	// Clean sessions have been delivered a frame for their current camera and intrinsics
	Clean State = iota
	// Dirty sessions need a new frame on the next tick
	Dirty
	// Faulted sessions failed repeatedly and wait for a camera or intrinsic change
	Faulted
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Clean, Dirty, Faulted} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Sink delivers frames to one viewer. Deliver may be called from the loop
// goroutine and from Connect concurrently, so implementations must be safe
// for concurrent use.
type Sink interface {
	// Deliver hands over a frame; Frame.Display gives the image to show
	Deliver(ctx context.Context, frame *renderer.Frame) error
	// Fault reports that rendering for this viewer keeps failing
	Fault(err error)
}

// Session is one connected viewer. Its fields are guarded by the owning
// Loop, except renderMu which orders the session's renders and deliveries.
type Session struct {
	renderMu sync.Mutex

	id         string
	sink       Sink
	pose       camera.Pose
	target     mgl64.Vec3
	state      State
	generation uint64 // bumped on every change that needs a new frame
	delivered  uint64 // generation of the newest delivered frame
	failures   int    // consecutive failed render attempts
	frames     int
	connected  time.Time
	lastFrame  time.Time
}

// Info is a read-only copy of a session's state
type Info struct {
	ID        string      `json:"id"`
	State     State       `json:"state"`
	Pose      camera.Pose `json:"-"`
	Target    mgl64.Vec3  `json:"target"`
	Position  mgl64.Vec3  `json:"position"`
	Failures  int         `json:"failures"`
	Frames    int         `json:"frames"`
	Connected time.Time   `json:"connected"`
	LastFrame time.Time   `json:"lastFrame"`
}

func (s *Session) info() Info {
	return Info{
		ID:        s.id,
		State:     s.state,
		Pose:      s.pose,
		Target:    s.target,
		Position:  s.pose.Position,
		Failures:  s.failures,
		Frames:    s.frames,
		Connected: s.connected,
		LastFrame: s.lastFrame,
	}
}

// markDirty schedules a new frame and re-arms a faulted session
func (s *Session) markDirty() {
	s.state = Dirty
	s.failures = 0
	s.generation++
}
