// internal/dsp/autocorr.go
package dsp

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
)

// Method selects how the autocorrelation is computed. Both methods yield
// the same unnormalized sequence up to floating point error.
type Method string

const (
	// MethodDirect sums lag products directly, O(N²).
	MethodDirect Method = "direct"
	// MethodFFT uses the power spectrum of a zero-padded FFT, O(N log N).
	MethodFFT Method = "fft"
)

// Valid reports whether m names a supported method.
func (m Method) Valid() bool {
	return m == MethodDirect || m == MethodFFT
}

// autocorrelateDirect writes c[lag] = Σ x[j]*x[j+lag] for lag in [0, len(x)).
// dst must have len(x) elements.
func autocorrelateDirect(x, dst []float64) {
	n := len(x)
	for lag := 0; lag < n; lag++ {
		dst[lag] = floats.Dot(x[:n-lag], x[lag:])
	}
}

// autocorrelateFFT computes the same sequence as autocorrelateDirect.
// Padding to at least 2N avoids circular wrap-around.
func autocorrelateFFT(x, dst []float64) {
	n := len(x)
	size := 1
	for size < 2*n {
		size <<= 1
	}

	padded := make([]float64, size)
	copy(padded, x)

	spectrum := fft.FFTReal(padded)
	for i, v := range spectrum {
		spectrum[i] = v * cmplx.Conj(v)
	}

	r := fft.IFFT(spectrum)
	for lag := 0; lag < n; lag++ {
		dst[lag] = real(r[lag])
	}
}
