// internal/audio/source.go
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// readChunkSize is how many samples a pull source requests per read
const readChunkSize = 1024

// readFunc fills dst with mono samples. Returning 0 samples or io.EOF ends the stream.
type readFunc func(dst []float32) (int, error)

// pullSource assembles frames from a synchronous sample reader.
type pullSource struct {
	framer *Framer
	read   readFunc
	chunk  []float32
	eof    bool
}

func newPullSource(framer *Framer, read readFunc) *pullSource {
	return &pullSource{
		framer: framer,
		read:   read,
		chunk:  make([]float32, readChunkSize),
	}
}

// Next returns the next frame. A trailing partial frame is discarded.
func (s *pullSource) Next(ctx context.Context) (Frame, error) {
	for {
		if f, ok := s.framer.Pop(); ok {
			return f, nil
		}
		if s.eof {
			return Frame{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		n, err := s.read(s.chunk)
		if n > 0 {
			s.framer.Push(s.chunk[:n])
		}
		switch {
		case errors.Is(err, io.EOF), n == 0 && err == nil:
			s.eof = true
		case err != nil:
			return Frame{}, fmt.Errorf("read samples: %w", err)
		}
	}
}

// SliceSource serves frames cut from an in-memory sample slice.
type SliceSource struct {
	*pullSource
}

// NewSliceSource creates a source over samples at the given rate.
func NewSliceSource(samples []float32, sampleRate, frameSize, overlapPct int) (*SliceSource, error) {
	framer, err := NewFramer(frameSize, overlapPct, sampleRate)
	if err != nil {
		return nil, err
	}

	pos := 0
	read := func(dst []float32) (int, error) {
		if pos >= len(samples) {
			return 0, io.EOF
		}
		n := copy(dst, samples[pos:])
		pos += n
		return n, nil
	}
	return &SliceSource{pullSource: newPullSource(framer, read)}, nil
}

// MicSource serves frames from a live Capture.
type MicSource struct {
	capture *Capture
	framer  *Framer
}

// NewMicSource initializes the audio backend for the given device.
// Call Start before pulling frames and Close when done.
func NewMicSource(cfg CaptureConfig, frameSize, overlapPct int) (*MicSource, error) {
	framer, err := NewFramer(frameSize, overlapPct, int(cfg.SampleRate))
	if err != nil {
		return nil, err
	}

	capture := NewCapture(cfg)
	if err := capture.Init(); err != nil {
		return nil, err
	}

	return &MicSource{capture: capture, framer: framer}, nil
}

// Start begins capturing. Capture stops when ctx is cancelled.
func (m *MicSource) Start(ctx context.Context) error {
	m.framer.Reset()
	return m.capture.Start(ctx)
}

// Next blocks until a full frame has been captured.
func (m *MicSource) Next(ctx context.Context) (Frame, error) {
	return nextFromChannel(ctx, m.framer, m.capture.Samples)
}

// Capture exposes the underlying device capture
func (m *MicSource) Capture() *Capture {
	return m.capture
}

// Close stops capture and releases the device
func (m *MicSource) Close() error {
	return m.capture.Close()
}

// nextFromChannel fills framer from ch until a frame is ready. A closed
// channel ends the stream.
func nextFromChannel(ctx context.Context, framer *Framer, ch <-chan []float32) (Frame, error) {
	for {
		if f, ok := framer.Pop(); ok {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case samples, ok := <-ch:
			if !ok {
				return Frame{}, io.EOF
			}
			framer.Push(samples)
		}
	}
}
