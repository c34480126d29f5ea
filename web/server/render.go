package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"github.com/seung0h/web-3dgs/pkg/camera"
	"github.com/seung0h/web-3dgs/pkg/config"
	"github.com/seung0h/web-3dgs/pkg/loaders"
	"github.com/seung0h/web-3dgs/pkg/renderer"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

// Websocket message types
const (
	MessageCamera    = "camera"
	MessageHello     = "hello"
	MessageFrame     = "frame"
	MessageConsole   = "console"
	MessageFault     = "fault"
	MessageSnapshots = "snapshots"
)

const (
	writeWait         = 5 * time.Second
	consoleBufferSize = 50
)

// CameraMessage is a viewer's camera pose: camera-to-world rotation as a
// w,x,y,z quaternion plus the world position
type CameraMessage struct {
	Type     string     `json:"type"`
	WXYZ     [4]float64 `json:"wxyz"`
	Position [3]float64 `json:"position"`
}

// Pose converts the message into a normalized camera pose
func (m CameraMessage) Pose() camera.Pose {
	rotation := mgl64.Quat{W: m.WXYZ[0], V: mgl64.Vec3{m.WXYZ[1], m.WXYZ[2], m.WXYZ[3]}}
	return camera.NewPose(rotation, mgl64.Vec3(m.Position))
}

// FrameUpdate carries one rendered frame to a viewer
type FrameUpdate struct {
	Type      string           `json:"type"`
	Encoding  string           `json:"encoding"`
	ImageData string           `json:"imageData"` // Base64 encoded JPEG or PNG
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Mode      renderer.Mode    `json:"mode"`
	Visible   int              `json:"visible"`
	Snapshot  splat.SnapshotID `json:"snapshot"`
	ElapsedMs int64            `json:"elapsedMs"`
	Stats     Stats            `json:"stats"`
}

// Stats represents render statistics
type Stats struct {
	TotalPixels          int     `json:"totalPixels"`
	Tiles                int     `json:"tiles"`
	AverageContributions float64 `json:"averageContributions"`
	MaxContributions     int     `json:"maxContributions"`
}

// HelloMessage is sent once a viewer's session exists
type HelloMessage struct {
	Type       string                 `json:"type"`
	SessionID  string                 `json:"sessionId"`
	Intrinsics renderer.Intrinsics    `json:"intrinsics"`
	Snapshots  []loaders.SnapshotInfo `json:"snapshots"`
	Active     *splat.SnapshotID      `json:"active,omitempty"`
	Target     mgl64.Vec3             `json:"target"`   // point the camera was aimed at
	Position   mgl64.Vec3             `json:"position"` // initial camera position
}

// SnapshotsMessage announces a changed snapshot list
type SnapshotsMessage struct {
	Type      string                 `json:"type"`
	Snapshots []loaders.SnapshotInfo `json:"snapshots"`
}

// ConsoleEvent wraps a console message for the websocket
type ConsoleEvent struct {
	Type string `json:"type"`
	ConsoleMessage
}

// FaultMessage tells a viewer its frames stopped until the camera moves or
// settings change
type FaultMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// viewer is one websocket client and the delivery sink for its session.
// gorilla connections allow one concurrent writer, so writes are serialized.
type viewer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	stream  config.StreamConfig
	console chan ConsoleMessage
	logger  *WebLogger
	done    chan struct{}
	once    sync.Once
}

func newViewer(conn *websocket.Conn, stream config.StreamConfig, label string, server *Server) *viewer {
	v := &viewer{
		conn:    conn,
		stream:  stream,
		console: make(chan ConsoleMessage, consoleBufferSize),
		done:    make(chan struct{}),
	}
	v.logger = NewWebLogger(label, v.console, server.logger)
	return v
}

// Deliver encodes a frame and sends it
func (v *viewer) Deliver(ctx context.Context, frame *renderer.Frame) error {
	img := frame.Display().ToRGBA()
	data, err := encodeImage(img, v.stream)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	update := FrameUpdate{
		Type:      MessageFrame,
		Encoding:  v.stream.Encoding,
		ImageData: base64.StdEncoding.EncodeToString(data),
		Width:     img.Bounds().Dx(),
		Height:    img.Bounds().Dy(),
		Mode:      frame.Mode,
		Visible:   frame.Visible,
		Snapshot:  frame.Snapshot,
		ElapsedMs: frame.Elapsed.Milliseconds(),
		Stats: Stats{
			TotalPixels:          frame.Stats.TotalPixels,
			Tiles:                frame.Stats.Tiles,
			AverageContributions: frame.Stats.AverageContributions(),
			MaxContributions:     frame.Stats.MaxContributions,
		},
	}
	return v.write(ctx, update)
}

// Fault reports repeated render failures on the viewer's console
func (v *viewer) Fault(err error) {
	v.logger.Errorf("Rendering stopped: %v\n", err)
	if werr := v.write(context.Background(), FaultMessage{Type: MessageFault, Message: err.Error()}); werr != nil {
		v.logger.server.Printf("failed to send fault: %v\n", werr)
	}
}

// write sends one JSON message, bounded by writeWait or the context deadline
func (v *viewer) write(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	select {
	case <-v.done:
		return websocket.ErrCloseSent
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := v.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return v.conn.WriteMessage(websocket.TextMessage, data)
}

// streamConsole forwards console messages until the viewer closes
func (v *viewer) streamConsole() {
	for {
		select {
		case <-v.done:
			return
		case msg := <-v.console:
			if err := v.write(context.Background(), ConsoleEvent{Type: MessageConsole, ConsoleMessage: msg}); err != nil {
				return
			}
		}
	}
}

// close stops console streaming and closes the connection
func (v *viewer) close() {
	v.once.Do(func() {
		v.writeMu.Lock()
		close(v.done)
		_ = v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		v.writeMu.Unlock()
		v.conn.Close()
	})
}

// encodeImage converts an image to the configured stream encoding
func encodeImage(img image.Image, stream config.StreamConfig) ([]byte, error) {
	var buf bytes.Buffer
	switch stream.Encoding {
	case config.EncodingPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: stream.JPEGQuality}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
