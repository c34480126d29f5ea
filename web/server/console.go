package server

import (
	"fmt"
	"time"

	"github.com/seung0h/web-3dgs/pkg/core"
)

// Console message levels
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// ConsoleMessage represents a console message with timestamp
type ConsoleMessage struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // "info", "error"
}

// WebLogger implements core.Logger by mirroring messages to one viewer's
// console channel
type WebLogger struct {
	viewerID    string
	consoleChan chan<- ConsoleMessage
	server      core.Logger
}

// NewWebLogger creates a new web logger for a specific viewer. Every message
// also goes to the server log.
func NewWebLogger(viewerID string, consoleChan chan<- ConsoleMessage, server core.Logger) *WebLogger {
	if server == nil {
		server = core.NopLogger{}
	}
	return &WebLogger{
		viewerID:    viewerID,
		consoleChan: consoleChan,
		server:      server,
	}
}

// Printf implements core.Logger interface
func (wl *WebLogger) Printf(format string, args ...interface{}) {
	wl.send(LevelInfo, fmt.Sprintf(format, args...))
}

// Errorf logs a message at error level
func (wl *WebLogger) Errorf(format string, args ...interface{}) {
	wl.send(LevelError, fmt.Sprintf(format, args...))
}

func (wl *WebLogger) send(level, message string) {
	wl.server.Printf("[%s] %s", wl.viewerID, message)

	// Send to web console if channel is available (non-blocking)
	if wl.consoleChan != nil {
		select {
		case wl.consoleChan <- ConsoleMessage{
			Message:   message,
			Timestamp: time.Now(),
			Level:     level,
		}:
		default:
			// Channel full, skip (don't block)
		}
	}
}
