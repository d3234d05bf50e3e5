// internal/sink/console.go

// Package sink delivers engine events to outputs outside the detector.
package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/ColonelBlimp/notedetect/internal/engine"
)

// Console prints one line per event.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Handle writes ev. It has the engine.Handler signature.
func (c *Console) Handle(ev engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case engine.NoteDetected:
		_, _ = fmt.Fprintf(c.w, "%-4s %8.2f Hz\n", ev.NoteID(), ev.Frequency)
	case engine.SilenceDetected:
		_, _ = fmt.Fprintln(c.w, "--")
	}
}
