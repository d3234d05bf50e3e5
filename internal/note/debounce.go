// internal/note/debounce.go
package note

import "errors"

// DefaultStabilityFrames is the number of consecutive identical candidates
// required before a note is confirmed.
const DefaultStabilityFrames = 5

// ErrInvalidStability indicates the stability frame count must be at least 1
var ErrInvalidStability = errors.New("stability frames must be at least 1")

// State is the externally visible phase of the debouncer.
type State int

const (
	// Idle means no candidate is pending and no note is confirmed.
	Idle State = iota
	// Pending means a candidate is accumulating frames.
	Pending
	// Confirmed means a note is currently sustained.
	Confirmed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Transition is the outcome of one Observe call.
type Transition int

const (
	// NoChange means nothing should be emitted for this frame.
	NoChange Transition = iota
	// NoteOn means a new stable note was confirmed.
	NoteOn
	// Silence means the previously confirmed note ended.
	Silence
)

// Outcome reports what a single observation produced. Note is only
// meaningful when Transition is NoteOn.
type Outcome struct {
	Transition Transition
	Note       ID
}

// Debouncer suppresses per-frame jitter. A candidate must be seen on
// Stability consecutive frames before it is confirmed, and a confirmed note
// is reported once no matter how long it is sustained.
//
// pendingCount counts the frames of the current run including the first,
// so a new candidate starts at 1 and is confirmed once the count reaches
// the stability threshold.
//
// Not safe for concurrent use; the engine drives it from a single loop.
type Debouncer struct {
	stability int

	pendingNote   ID
	hasPending    bool
	pendingCount  int
	lastConfirmed ID
	hasConfirmed  bool
}

// NewDebouncer creates a Debouncer requiring stability consecutive frames.
func NewDebouncer(stability int) (*Debouncer, error) {
	if stability < 1 {
		return nil, ErrInvalidStability
	}
	return &Debouncer{stability: stability}, nil
}

// Observe feeds one frame's candidate. ok is false when the frame had no pitch.
func (d *Debouncer) Observe(candidate ID, ok bool) Outcome {
	if !ok {
		d.hasPending = false
		d.pendingCount = 0
		if d.hasConfirmed {
			d.hasConfirmed = false
			d.lastConfirmed = ID{}
			return Outcome{Transition: Silence}
		}
		return Outcome{}
	}

	if d.hasPending && candidate == d.pendingNote {
		d.pendingCount++
	} else {
		d.pendingNote = candidate
		d.hasPending = true
		d.pendingCount = 1
	}

	if d.pendingCount >= d.stability && (!d.hasConfirmed || d.pendingNote != d.lastConfirmed) {
		d.lastConfirmed = d.pendingNote
		d.hasConfirmed = true
		return Outcome{Transition: NoteOn, Note: d.pendingNote}
	}
	return Outcome{}
}

// Reset clears all pending and confirmed state, as when detection stops.
func (d *Debouncer) Reset() {
	d.pendingNote = ID{}
	d.hasPending = false
	d.pendingCount = 0
	d.lastConfirmed = ID{}
	d.hasConfirmed = false
}

// Hold marks id as the sustained note without pending progress, so a fresh
// Debouncer can take over from one already tracking a note. Observing id
// again does not re-confirm it.
func (d *Debouncer) Hold(id ID) {
	d.pendingNote = ID{}
	d.hasPending = false
	d.pendingCount = 0
	d.lastConfirmed = id
	d.hasConfirmed = true
}

// State returns the current phase.
func (d *Debouncer) State() State {
	switch {
	case d.hasConfirmed:
		return Confirmed
	case d.hasPending:
		return Pending
	default:
		return Idle
	}
}

// Pending returns the pending candidate and its consecutive frame count.
func (d *Debouncer) Pending() (ID, int, bool) {
	return d.pendingNote, d.pendingCount, d.hasPending
}

// LastConfirmed returns the currently sustained note, if any.
func (d *Debouncer) LastConfirmed() (ID, bool) {
	return d.lastConfirmed, d.hasConfirmed
}

// Stability returns the configured stability frame count.
func (d *Debouncer) Stability() int {
	return d.stability
}
