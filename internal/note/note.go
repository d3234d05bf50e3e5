// internal/note/note.go
// Package note maps frequencies to equal-tempered note identifiers and
// debounces per-frame note candidates into stable note events.
package note

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// ReferencePitch is the default tuning reference, A4 in Hz.
	ReferencePitch = 440.0
	// ReferenceMIDI is the MIDI number of the reference pitch (A4).
	ReferenceMIDI = 69
	// SemitonesPerOctave is the number of equal-tempered pitch classes.
	SemitonesPerOctave = 12

	// PianoLowest is A0, the lowest key of an 88-key keyboard.
	PianoLowest = 21
	// PianoHighest is C8, the highest key of an 88-key keyboard.
	PianoHighest = 108
)

var (
	// ErrInvalidName indicates the string is not of the form <class><octave>, e.g. "C#4"
	ErrInvalidName = errors.New("invalid note name")
	// ErrInvalidFrequency indicates the frequency is not a positive finite number
	ErrInvalidFrequency = errors.New("frequency must be positive and finite")
)

// Names is the fixed pitch-class table, starting at C.
var Names = [SemitonesPerOctave]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// PitchClass is an index into Names (0 = C, 9 = A).
type PitchClass int

func (p PitchClass) String() string {
	return Names[p]
}

// ID identifies a note by pitch class and octave. Two IDs are equal iff
// both fields match, so ID is usable with == and as a map key.
type ID struct {
	Class  PitchClass
	Octave int
}

// FromMIDI builds an ID from a MIDI-style note number. Octave is
// floor(midi/12) - 1, so MIDI 60 is C4 and MIDI 0 is C-1.
func FromMIDI(midi int) ID {
	octave := floorDiv(midi, SemitonesPerOctave)
	class := midi - octave*SemitonesPerOctave
	return ID{Class: PitchClass(class), Octave: octave - 1}
}

// MIDI returns the MIDI-style note number of the ID.
func (id ID) MIDI() int {
	return (id.Octave+1)*SemitonesPerOctave + int(id.Class)
}

// String returns the note name, e.g. "A4", "C#-1".
func (id ID) String() string {
	return Names[id.Class] + strconv.Itoa(id.Octave)
}

// Frequency returns the equal-tempered frequency of the note for the given
// A4 reference. A non-positive reference falls back to ReferencePitch.
func (id ID) Frequency(reference float64) float64 {
	if reference <= 0 {
		reference = ReferencePitch
	}
	return reference * math.Pow(2, float64(id.MIDI()-ReferenceMIDI)/SemitonesPerOctave)
}

// Parse reads a note name such as "C4", "F#3" or "B-1".
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidName, s)
	}

	nameLen := 1
	if s[1] == '#' {
		nameLen = 2
	}
	class := -1
	for i, n := range Names {
		if strings.EqualFold(n, s[:nameLen]) {
			class = i
			break
		}
	}
	if class < 0 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidName, s)
	}

	octave, err := strconv.Atoi(s[nameLen:])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidName, s)
	}
	return ID{Class: PitchClass(class), Octave: octave}, nil
}

// Mapper converts frequencies to note IDs using equal temperament.
type Mapper struct {
	reference float64
}

// NewMapper creates a Mapper tuned to the given A4 reference.
// A non-positive reference falls back to ReferencePitch.
func NewMapper(reference float64) Mapper {
	if reference <= 0 {
		reference = ReferencePitch
	}
	return Mapper{reference: reference}
}

// Reference returns the A4 tuning reference in Hz.
func (m Mapper) Reference() float64 {
	return m.reference
}

// MIDI returns round(12*log2(f/ref) + 69). Callers must pass f > 0.
func (m Mapper) MIDI(freqHz float64) int {
	return int(math.Round(SemitonesPerOctave*math.Log2(freqHz/m.reference))) + ReferenceMIDI
}

// ToNote maps a frequency to its nearest note. The result is not clamped:
// very low or high frequencies give valid IDs outside any instrument range.
func (m Mapper) ToNote(freqHz float64) (ID, error) {
	if freqHz <= 0 || math.IsNaN(freqHz) || math.IsInf(freqHz, 0) {
		return ID{}, ErrInvalidFrequency
	}
	return FromMIDI(m.MIDI(freqHz)), nil
}

// Range is an inclusive MIDI note range used to filter candidates.
type Range struct {
	Low  int
	High int
}

// PianoRange is the 88-key range A0..C8.
var PianoRange = Range{Low: PianoLowest, High: PianoHighest}

// Contains reports whether id lies within the range.
func (r Range) Contains(id ID) bool {
	m := id.MIDI()
	return m >= r.Low && m <= r.High
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
