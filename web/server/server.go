// Package server streams rendered frames to browser viewers over websockets
// and exposes the shared render settings over a small HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/seung0h/web-3dgs/pkg/config"
	"github.com/seung0h/web-3dgs/pkg/core"
	"github.com/seung0h/web-3dgs/pkg/loaders"
	"github.com/seung0h/web-3dgs/pkg/renderer"
	"github.com/seung0h/web-3dgs/pkg/session"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

const socketBufferSize = 1024

// Options configures a Server
type Options struct {
	Port      int
	StaticDir string
	Stream    config.StreamConfig
	Snapshots *loaders.SnapshotLoader // nil when serving a built-in scene
	Logger    core.Logger
}

// Server handles web requests for the splat viewer
type Server struct {
	port       int
	staticDir  string
	stream     config.StreamConfig
	loop       *session.Loop
	dispatcher *renderer.Dispatcher
	snapshots  *loaders.SnapshotLoader
	logger     core.Logger
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	viewers map[*viewer]struct{}
}

// NewServer creates a new web server around a running update loop
func NewServer(loop *session.Loop, dispatcher *renderer.Dispatcher, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = core.NopLogger{}
	}
	if opts.StaticDir == "" {
		opts.StaticDir = "static/"
	}
	if opts.Stream.Encoding == "" {
		opts.Stream = config.Default().Stream
	}
	return &Server{
		port:       opts.Port,
		staticDir:  opts.StaticDir,
		stream:     opts.Stream,
		loop:       loop,
		dispatcher: dispatcher,
		snapshots:  opts.Snapshots,
		logger:     opts.Logger,
		upgrader:   websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize},
		viewers:    make(map[*viewer]struct{}),
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve static files
	mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))

	mux.HandleFunc("/ws", s.handleViewer)

	// API endpoints
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/snapshots", s.handleSnapshots)
	mux.HandleFunc("/api/control", s.handleControl)
	return mux
}

// Start serves until ctx is done, then closes every viewer and shuts down
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()
	s.logger.Printf("Starting web server on http://localhost%s\n", addr)

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	s.closeViewers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// BroadcastSnapshots pushes a changed snapshot list to every viewer
func (s *Server) BroadcastSnapshots(snapshots []loaders.SnapshotInfo) {
	msg := SnapshotsMessage{Type: MessageSnapshots, Snapshots: snapshots}
	for _, v := range s.viewerList() {
		if err := v.write(context.Background(), msg); err != nil {
			s.logger.Printf("failed to send snapshot list: %v\n", err)
		}
	}
}

// handleViewer upgrades to a websocket, registers a session and feeds camera
// messages into it until the connection closes
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.logger.Printf("websocket upgrade failed: %v\n", err)
		return
	}

	v := newViewer(conn, s.stream, r.RemoteAddr, s)
	s.addViewer(v)
	defer s.removeViewer(v)
	defer v.close()
	go v.streamConsole()

	ctx := r.Context()
	id := s.loop.Connect(ctx, v)
	defer s.loop.Disconnect(id)

	if err := v.write(ctx, s.hello(id)); err != nil {
		s.logger.Printf("failed to greet viewer %s: %v\n", id, err)
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("viewer %s read error: %v\n", id, err)
			}
			return
		}
		s.handleMessage(id, v, data)
	}
}

// handleMessage applies one websocket message from a viewer
func (s *Server) handleMessage(id string, v *viewer, data []byte) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		v.logger.Errorf("Invalid message: %v\n", err)
		return
	}

	switch header.Type {
	case MessageCamera:
		var msg CameraMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			v.logger.Errorf("Invalid camera message: %v\n", err)
			return
		}
		if !finite(msg.WXYZ[:]) || !finite(msg.Position[:]) {
			v.logger.Errorf("Camera message has non-finite values\n")
			return
		}
		if err := s.loop.UpdateCamera(id, msg.Pose()); err != nil {
			v.logger.Errorf("Camera update failed: %v\n", err)
		}
	default:
		v.logger.Errorf("Unknown message type %q\n", header.Type)
	}
}

func (s *Server) hello(id string) HelloMessage {
	msg := HelloMessage{
		Type:       MessageHello,
		SessionID:  id,
		Intrinsics: s.dispatcher.Intrinsics(),
		Snapshots:  s.listSnapshots(),
	}
	if active, ok := s.dispatcher.Model().Snapshot(); ok {
		msg.Active = &active
	}
	if info, ok := s.loop.Session(id); ok {
		msg.Target = info.Target
		msg.Position = info.Position
	}
	return msg
}

// handleHealth provides a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StateResponse describes the shared render state and connected sessions
type StateResponse struct {
	Intrinsics renderer.Intrinsics `json:"intrinsics"`
	Snapshot   *splat.SnapshotID   `json:"snapshot,omitempty"`
	Splats     int                 `json:"splats"`
	SHDegree   int                 `json:"shDegree"`
	Sessions   []session.Info      `json:"sessions"`
}

func (s *Server) state() StateResponse {
	resp := StateResponse{
		Intrinsics: s.dispatcher.Intrinsics(),
		Sessions:   s.loop.Sessions(),
	}
	model := s.dispatcher.Model()
	if id, ok := model.Snapshot(); ok {
		resp.Snapshot = &id
	}
	if set := model.Current(); set != nil {
		resp.Splats = set.Len()
		resp.SHDegree = set.Degree()
	}
	return resp
}

// handleState returns the current intrinsics, scene and sessions
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

// handleSnapshots lists the snapshots available for reload
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": s.listSnapshots()})
}

func (s *Server) listSnapshots() []loaders.SnapshotInfo {
	if s.snapshots == nil {
		return []loaders.SnapshotInfo{}
	}
	snapshots, err := s.snapshots.List()
	if err != nil {
		s.logger.Printf("failed to list snapshots: %v\n", err)
		return []loaders.SnapshotInfo{}
	}
	return snapshots
}

// handleControl applies control changes from form or query parameters:
// snapshot (iteration), fov (degrees), scale and mode (color|depth).
// Parameters are range-checked before anything applies, and the snapshot
// loads first, so a missing snapshot leaves every setting unchanged. A
// rejection reports the changes that were already applied.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "use POST"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	events, err := parseControlRequest(r.Form)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid request: %v", err)})
		return
	}

	applied := []string{}
	for _, event := range events {
		if err := s.loop.Apply(r.Context(), event); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, core.ErrSnapshotNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]interface{}{"error": err.Error(), "applied": applied})
			return
		}
		applied = append(applied, fmt.Sprint(event))
	}
	writeJSON(w, http.StatusOK, s.state())
}

// parseControlRequest turns control parameters into loop events, the
// snapshot change first since it is the one that can fail after parsing
func parseControlRequest(values url.Values) ([]session.Event, error) {
	var events []session.Event

	if values.Has("snapshot") {
		id, err := parseIntParam(values, "snapshot", 0, 1, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		events = append(events, session.SnapshotChanged{ID: splat.SnapshotID(id)})
	}
	if values.Has("fov") {
		fov, err := parseFloatParam(values, "fov", 0, 1, 179)
		if err != nil {
			return nil, err
		}
		events = append(events, session.FovChanged{Degrees: fov})
	}
	if values.Has("scale") {
		scale, err := parseFloatParam(values, "scale", 0, 0.001, 1)
		if err != nil {
			return nil, err
		}
		events = append(events, session.ScaleChanged{Scale: scale})
	}
	if values.Has("mode") {
		mode, err := renderer.ParseMode(values.Get("mode"))
		if err != nil {
			return nil, err
		}
		events = append(events, session.ModeChanged{Mode: mode})
	}

	if len(events) == 0 {
		return nil, fmt.Errorf("no control parameters given (fov, scale, mode, snapshot)")
	}
	return events, nil
}

// parseIntParam parses an integer parameter from URL query with validation
func parseIntParam(values url.Values, key string, defaultValue, min, max int) (int, error) {
	if value := values.Get(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", key, value)
		}
		if parsed < min || parsed > max {
			return 0, fmt.Errorf("%s must be between %d and %d, got: %d", key, min, max, parsed)
		}
		return parsed, nil
	}
	return defaultValue, nil
}

// parseFloatParam parses a float parameter from URL query with validation
func parseFloatParam(values url.Values, key string, defaultValue, min, max float64) (float64, error) {
	if value := values.Get(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", key, value)
		}
		if parsed < min || parsed > max {
			return 0, fmt.Errorf("%s must be between %g and %g, got: %g", key, min, max, parsed)
		}
		return parsed, nil
	}
	return defaultValue, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func finite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s *Server) addViewer(v *viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers[v] = struct{}{}
}

func (s *Server) removeViewer(v *viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewers, v)
}

func (s *Server) viewerList() []*viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*viewer, 0, len(s.viewers))
	for v := range s.viewers {
		list = append(list, v)
	}
	return list
}

func (s *Server) closeViewers() {
	for _, v := range s.viewerList() {
		v.close()
	}
}
