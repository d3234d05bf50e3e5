// internal/dsp/estimator.go
// Package dsp estimates the fundamental frequency of audio frames.
package dsp

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultSilenceThreshold is the RMS level below which a frame has no pitch
	DefaultSilenceThreshold = 0.02
	// DefaultTrimThreshold is the amplitude used to find the trim bounds
	DefaultTrimThreshold = 0.2
	// minCorrelationLength is the smallest trimmed frame that still has an
	// interior lag for parabolic interpolation
	minCorrelationLength = 3
)

var (
	// ErrInvalidSilenceThreshold indicates silence threshold must be between 0 and 1
	ErrInvalidSilenceThreshold = errors.New("silence threshold must be between 0.0 and 1.0")
	// ErrInvalidTrimThreshold indicates trim threshold must be between 0 and 1
	ErrInvalidTrimThreshold = errors.New("trim threshold must be between 0.0 and 1.0")
	// ErrInvalidMethod indicates an unknown autocorrelation method
	ErrInvalidMethod = errors.New("correlation method must be \"direct\" or \"fft\"")
)

// EstimatorConfig holds configuration for the pitch estimator.
// All values should come from the application config file.
type EstimatorConfig struct {
	// SilenceThreshold is the RMS noise gate (from config: silence_threshold)
	SilenceThreshold float64
	// TrimThreshold bounds the correlated region (from config: trim_threshold)
	TrimThreshold float64
	// Method selects direct or FFT autocorrelation (from config: correlation)
	Method Method
}

// DefaultEstimatorConfig returns the stock thresholds with direct correlation.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		SilenceThreshold: DefaultSilenceThreshold,
		TrimThreshold:    DefaultTrimThreshold,
		Method:           MethodDirect,
	}
}

// Estimator finds the fundamental frequency of a frame by autocorrelation
// with parabolic peak refinement.
//
// The result depends only on the frame and the configuration. The scratch
// buffers make a single Estimator unsafe for concurrent use.
type Estimator struct {
	config EstimatorConfig

	samples []float64
	corr    []float64
	energy  []float64
}

// NewEstimator creates a new Estimator with the given configuration.
func NewEstimator(cfg EstimatorConfig) (*Estimator, error) {
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > 1 {
		return nil, ErrInvalidSilenceThreshold
	}
	if cfg.TrimThreshold < 0 || cfg.TrimThreshold > 1 {
		return nil, ErrInvalidTrimThreshold
	}
	if cfg.Method == "" {
		cfg.Method = MethodDirect
	}
	if !cfg.Method.Valid() {
		return nil, ErrInvalidMethod
	}
	return &Estimator{config: cfg}, nil
}

// Estimate returns the fundamental frequency in Hz of the given samples.
// ok is false when the frame is silent, empty or has no usable periodicity.
func (e *Estimator) Estimate(samples []float32, sampleRate float64) (freq float64, ok bool) {
	n := len(samples)
	if n == 0 || sampleRate <= 0 {
		return 0, false
	}

	x := e.samplesBuffer(n)
	for i, s := range samples {
		x[i] = float64(s)
	}

	// Noise gate. Written as a negated comparison so NaN input is rejected too.
	if !(RMS(x) >= e.config.SilenceThreshold) {
		return 0, false
	}

	x = trim(x, e.config.TrimThreshold)
	size := len(x)
	if size < minCorrelationLength {
		return 0, false
	}

	c := e.corrBuffer(size)
	if e.config.Method == MethodFFT {
		autocorrelateFFT(x, c)
	} else {
		autocorrelateDirect(x, c)
	}

	lag, ok := peakLag(c)
	if !ok {
		return 0, false
	}

	energy := e.energyBuffer(size + 1)
	for i, v := range x {
		energy[i+1] = energy[i] + v*v
	}
	period, ok := refineLag(c, energy, lag)
	if !ok {
		return 0, false
	}
	return sampleRate / period, true
}

// Config returns the current configuration
func (e *Estimator) Config() EstimatorConfig {
	return e.config
}

// RMS returns the root-mean-square amplitude of x.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Norm(x, 2) / math.Sqrt(float64(len(x)))
}

// trim drops the onset and tail of the frame. The left bound is the first
// sample in the first half below threshold, the right bound the first such
// sample scanning backwards through the second half. A bound with no such
// sample stays at the frame edge.
func trim(x []float64, threshold float64) []float64 {
	n := len(x)
	half := n / 2

	left := 0
	for i := 0; i < half; i++ {
		if math.Abs(x[i]) < threshold {
			left = i
			break
		}
	}

	right := n
	for i := 1; i < half; i++ {
		if math.Abs(x[n-i]) < threshold {
			right = n - i
			break
		}
	}

	if right <= left {
		return x[:0]
	}
	return x[left:right]
}

// peakLag locates the period in whole lags: skip the descent from the
// zero-lag peak to the first local minimum and take the highest correlation
// after it. The lag must have both neighbours for refinement.
func peakLag(c []float64) (int, bool) {
	n := len(c)

	d := 0
	for d+1 < n && c[d] > c[d+1] {
		d++
	}

	maxPos := -1
	maxVal := math.Inf(-1)
	for i := d; i < n; i++ {
		if c[i] > maxVal {
			maxVal = c[i]
			maxPos = i
		}
	}

	if maxPos <= 0 || maxPos >= n-1 {
		return 0, false
	}
	return maxPos, true
}

// normalized divides the correlation at lag k by the mean energy of the two
// overlapping windows, so a perfect repeat scores 1 whatever the overlap
// length. energy holds prefix sums of squares, energy[i] covering x[:i].
func normalized(c, energy []float64, k int) float64 {
	n := len(c)
	m := energy[n-k] + energy[n] - energy[k]
	if m <= 0 {
		return 0
	}
	return 2 * c[k] / m
}

// refineLag moves from lag k to the nearest maximum of the normalized
// correlation and fits a parabola through it and its neighbours. The raw sum
// shrinks with the overlap, which biases its peak towards shorter lags.
func refineLag(c, energy []float64, k int) (float64, bool) {
	n := len(c)
	if k <= 0 || k >= n-1 {
		return 0, false
	}

	for k > 1 && normalized(c, energy, k-1) > normalized(c, energy, k) {
		k--
	}
	for k < n-2 && normalized(c, energy, k+1) > normalized(c, energy, k) {
		k++
	}

	x1 := normalized(c, energy, k-1)
	x2 := normalized(c, energy, k)
	x3 := normalized(c, energy, k+1)
	a := (x1 + x3 - 2*x2) / 2
	b := (x3 - x1) / 2

	t0 := float64(k)
	if a != 0 {
		t0 -= b / (2 * a)
	}
	if !(t0 > 0) || math.IsInf(t0, 0) {
		return 0, false
	}
	return t0, true
}

func (e *Estimator) samplesBuffer(n int) []float64 {
	if cap(e.samples) < n {
		e.samples = make([]float64, n)
	}
	return e.samples[:n]
}

func (e *Estimator) corrBuffer(n int) []float64 {
	if cap(e.corr) < n {
		e.corr = make([]float64, n)
	}
	return e.corr[:n]
}

func (e *Estimator) energyBuffer(n int) []float64 {
	if cap(e.energy) < n {
		e.energy = make([]float64, n)
	}
	b := e.energy[:n]
	b[0] = 0
	return b
}
