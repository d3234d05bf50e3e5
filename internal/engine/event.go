// internal/engine/event.go
package engine

import (
	"fmt"

	"github.com/ColonelBlimp/notedetect/internal/note"
)

// Kind identifies the event type.
type Kind int

const (
	// NoteDetected reports a newly confirmed stable note.
	NoteDetected Kind = iota + 1
	// SilenceDetected reports that the sustained note has ended.
	SilenceDetected
)

func (k Kind) String() string {
	switch k {
	case NoteDetected:
		return "note"
	case SilenceDetected:
		return "silence"
	default:
		return "unknown"
	}
}

// Event is emitted to listeners. Note and Frequency are only set for NoteDetected.
type Event struct {
	Kind      Kind
	Note      note.ID
	Frequency float64
}

// NoteID returns the note name, e.g. "C#4", or "" for silence.
func (e Event) NoteID() string {
	if e.Kind != NoteDetected {
		return ""
	}
	return e.Note.String()
}

func (e Event) String() string {
	if e.Kind == NoteDetected {
		return fmt.Sprintf("NoteDetected(%s, %.1f Hz)", e.Note, e.Frequency)
	}
	return "SilenceDetected"
}

// Handler receives engine events. It runs on the detection loop and must
// return quickly.
type Handler func(Event)
