package core

import (
	"fmt"
	"log/slog"
	"strings"
)

// Logger interface for viewer logging
type Logger interface {
	Printf(format string, args ...interface{})
}

// DefaultLogger implements Logger by writing through the default slog handler
type DefaultLogger struct {
	component string
}

// NewDefaultLogger creates a logger tagged with the given component name
func NewDefaultLogger(component string) Logger {
	return &DefaultLogger{component: component}
}

// Printf implements Logger
func (dl *DefaultLogger) Printf(format string, args ...interface{}) {
	message := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	slog.Info(message, "component", dl.component)
}

// NopLogger discards everything. Handy in tests.
type NopLogger struct{}

func (NopLogger) Printf(string, ...interface{}) {}
