// internal/audio/wav.go
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

var (
	ErrNotWAV              = errors.New("not a valid WAV file")
	ErrUnsupportedWAV      = errors.New("only integer PCM WAV files are supported")
	ErrUnsupportedBitDepth = errors.New("WAV bit depth must be 16, 24 or 32")
)

// wavReader is the subset of wav.Decoder used by WAVSource, so tests can stub it
type wavReader interface {
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

// WAVSource serves mono frames decoded from a PCM WAV file. Multichannel
// audio is mixed down by averaging the channels.
type WAVSource struct {
	*pullSource
	closer     io.Closer
	sampleRate int
	channels   int
}

// OpenWAV opens path and prepares a frame source over its PCM data.
func OpenWAV(path string, frameSize, overlapPct int) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}

	src, err := NewWAVSource(f, frameSize, overlapPct)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewWAVSource decodes WAV data from r. The caller keeps ownership of r.
func NewWAVSource(r io.ReadSeeker, frameSize, overlapPct int) (*WAVSource, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrNotWAV
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, ErrUnsupportedWAV
	}

	bitDepth := int(dec.BitDepth)
	channels := int(dec.NumChans)
	sampleRate := int(dec.SampleRate)
	if channels < 1 {
		return nil, ErrNotWAV
	}

	read, err := wavReadFunc(dec, bitDepth, channels)
	if err != nil {
		return nil, err
	}

	framer, err := NewFramer(frameSize, overlapPct, sampleRate)
	if err != nil {
		return nil, err
	}

	return &WAVSource{
		pullSource: newPullSource(framer, read),
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// wavReadFunc converts interleaved integer PCM to normalized mono samples.
func wavReadFunc(dec wavReader, bitDepth, channels int) (readFunc, error) {
	var fullScale float32
	switch bitDepth {
	case 16, 24, 32:
		fullScale = float32(int64(1) << (bitDepth - 1))
	default:
		return nil, ErrUnsupportedBitDepth
	}

	buf := &goaudio.IntBuffer{}
	return func(dst []float32) (int, error) {
		want := len(dst) * channels
		if cap(buf.Data) < want {
			buf.Data = make([]int, want)
		}
		buf.Data = buf.Data[:want]

		n, err := dec.PCMBuffer(buf)
		frames := n / channels
		for i := 0; i < frames; i++ {
			var sum int
			for ch := 0; ch < channels; ch++ {
				sum += buf.Data[i*channels+ch]
			}
			dst[i] = float32(sum) / float32(channels) / fullScale
		}
		return frames, err
	}, nil
}

// SampleRate returns the file's sample rate in Hz
func (w *WAVSource) SampleRate() int {
	return w.sampleRate
}

// Channels returns the file's channel count before mixdown
func (w *WAVSource) Channels() int {
	return w.channels
}

// Close closes the file opened by OpenWAV. It is a no-op for NewWAVSource.
func (w *WAVSource) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
