// internal/audio/frame.go
// Package audio supplies fixed-size mono sample frames from a microphone,
// a WAV file or memory.
package audio

import (
	"context"
	"errors"
)

const (
	// DefaultFrameSize is the number of samples per analysis frame
	DefaultFrameSize = 2048
)

var (
	// ErrInvalidFrameSize indicates frame size must be positive
	ErrInvalidFrameSize = errors.New("frame size must be positive")
	// ErrInvalidOverlap indicates overlap percentage must be 0-99
	ErrInvalidOverlap = errors.New("overlap percentage must be between 0 and 99")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
)

// Frame is one fixed-length block of mono samples in roughly [-1, 1].
// Sources hand out a fresh slice per frame; receivers must not modify it.
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Len returns the number of samples in the frame
func (f Frame) Len() int {
	return len(f.Samples)
}

// Source produces frames on demand. Next blocks until a full frame is
// available and returns io.EOF once the stream is exhausted.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// Framer cuts a continuous sample stream into fixed-size frames, optionally
// overlapping. With overlap 0 frames are back to back; with overlap p each
// frame starts size*(100-p)/100 samples after the previous one.
type Framer struct {
	size       int
	hop        int
	sampleRate int
	buf        []float32
}

// NewFramer creates a framer producing frames of size samples.
func NewFramer(size, overlapPct, sampleRate int) (*Framer, error) {
	if size <= 0 {
		return nil, ErrInvalidFrameSize
	}
	if overlapPct < 0 || overlapPct >= 100 {
		return nil, ErrInvalidOverlap
	}
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}

	hop := size - (size*overlapPct)/100
	if hop < 1 {
		hop = 1
	}

	return &Framer{
		size:       size,
		hop:        hop,
		sampleRate: sampleRate,
		buf:        make([]float32, 0, size*2),
	}, nil
}

// Push appends samples to the pending buffer.
func (f *Framer) Push(samples []float32) {
	f.buf = append(f.buf, samples...)
}

// Pop returns the next complete frame, if one is buffered.
func (f *Framer) Pop() (Frame, bool) {
	if len(f.buf) < f.size {
		return Frame{}, false
	}

	out := make([]float32, f.size)
	copy(out, f.buf[:f.size])

	// Slide the buffer by hop
	if f.hop < len(f.buf) {
		n := copy(f.buf, f.buf[f.hop:])
		f.buf = f.buf[:n]
	} else {
		f.buf = f.buf[:0]
	}

	return Frame{Samples: out, SampleRate: f.sampleRate}, true
}

// Buffered returns the number of samples waiting for the next frame
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset discards buffered samples
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// Size returns the frame length in samples
func (f *Framer) Size() int {
	return f.size
}

// Hop returns the number of samples between frame starts
func (f *Framer) Hop() int {
	return f.hop
}
