// internal/sink/midi.go
package sink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gitlab.com/gomidi/midi/v2"

	"github.com/ColonelBlimp/notedetect/internal/engine"
)

var (
	// ErrInvalidChannel indicates the MIDI channel must be 0-15
	ErrInvalidChannel = errors.New("midi channel must be between 0 and 15")
	// ErrInvalidVelocity indicates the note velocity must be 1-127
	ErrInvalidVelocity = errors.New("midi velocity must be between 1 and 127")
)

// MIDIConfig holds configuration for the live MIDI output.
type MIDIConfig struct {
	// Channel is the zero-based MIDI channel (from config: midi_channel)
	Channel int
	// Velocity is the note-on velocity (from config: midi_velocity)
	Velocity int
}

// MIDI turns note events into raw MIDI messages. NoteDetected releases the
// previous note and starts the new one; SilenceDetected releases it.
type MIDI struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	channel  uint8
	velocity uint8

	sounding bool
	key      uint8
	err      error
}

// NewMIDI creates a MIDI sink writing messages to w.
func NewMIDI(w io.Writer, cfg MIDIConfig) (*MIDI, error) {
	if cfg.Channel < 0 || cfg.Channel > 15 {
		return nil, ErrInvalidChannel
	}
	if cfg.Velocity < 1 || cfg.Velocity > 127 {
		return nil, ErrInvalidVelocity
	}
	return &MIDI{
		w:        w,
		channel:  uint8(cfg.Channel),
		velocity: uint8(cfg.Velocity),
	}, nil
}

// OpenMIDI opens path for writing, typically a raw MIDI device node such as
// /dev/snd/midiC1D0, and returns a sink that closes it on Close.
func OpenMIDI(path string, cfg MIDIConfig) (*MIDI, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open midi output: %w", err)
	}
	m, err := NewMIDI(f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	m.closer = f
	return m, nil
}

// Handle writes the messages for ev. It has the engine.Handler signature.
// Write failures are logged once and kept for Err.
func (m *MIDI) Handle(ev engine.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Kind {
	case engine.NoteDetected:
		key := ev.Note.MIDI()
		if key < 0 || key > 127 {
			return
		}
		m.release()
		m.send(midi.NoteOn(m.channel, uint8(key), m.velocity))
		m.sounding = true
		m.key = uint8(key)
	case engine.SilenceDetected:
		m.release()
	}
}

func (m *MIDI) release() {
	if !m.sounding {
		return
	}
	m.send(midi.NoteOff(m.channel, m.key))
	m.sounding = false
}

func (m *MIDI) send(msg midi.Message) {
	if _, err := m.w.Write(msg.Bytes()); err != nil && m.err == nil {
		m.err = err
		slog.Warn("midi write failed", "error", err)
	}
}

// Err returns the first write error, if any.
func (m *MIDI) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Close releases a sounding note and closes the output opened by OpenMIDI.
func (m *MIDI) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.release()
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}
