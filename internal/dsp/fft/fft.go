// Package fft provides the windowed real-to-complex FFT helper shared by
// the MFCC, harmonic, and cadence analyzers (spec §4.B). A Plan is bound
// to one power-of-two size and caches both the gonum FFT plan and the
// Hann window coefficients for that size, so hot-path frames reuse the
// plan, window, and FFT buffers instead of reallocating them (spec §5: "no global heap growth... per-frame allocations
// are amortized away in a warm session"). Magnitude allocates only the
// slice it returns.
//
// Grounded on rayboyd-audio-engine's internal/analysis/fft.go
// (pre-allocated fftWorkspace wrapping gonum.org/v1/gonum/dsp/fourier).
package fft

import (
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Plan is a reusable FFT plan for one fixed window size, with a cached
// Hann window. A Plan is not safe for concurrent use: Spectrum and
// Magnitude write its scratch and coefficient buffers, so each session
// owns its own Plan.
type Plan struct {
	size    int
	fft     *fourier.FFT
	hann    []float64
	scratch []float64    // windowed input, reused per call
	coeffs  []complex128 // FFT output, reused per call
}

// NewPlan builds an FFT plan for the given power-of-two window size.
// Panics if size is not a positive power of two: this is a
// construction-time contract, since window size is fixed per session
// configuration, not caller-varying input.
//
// Each Plan owns its own fourier.FFT and scratch buffers: only the
// Hann window coefficients (a true per-size constant) are shared
// read-only across Plans via hannWindow, matching spec §5's "the Hann
// window... may be shared read-only between sessions of the same
// configuration" without sharing the mutable FFT workspace itself,
// which would race under concurrent per-session processing.
func NewPlan(size int) *Plan {
	if size <= 0 || size&(size-1) != 0 {
		panic("fft: size must be a positive power of two")
	}
	return &Plan{
		size:    size,
		fft:     fourier.NewFFT(size),
		hann:    hannWindow(size),
		scratch: make([]float64, size),
		coeffs:  make([]complex128, size/2+1),
	}
}

// hannWindow returns the cached Hann coefficients for size, computing
// them once per process.
func hannWindow(size int) []float64 {
	windowCacheMu.Lock()
	defer windowCacheMu.Unlock()
	if w, ok := windowCache[size]; ok {
		return w
	}
	coeffs := make([]float64, size)
	for i := range coeffs {
		coeffs[i] = 1
	}
	coeffs = window.Hann(coeffs)
	windowCache[size] = coeffs
	return coeffs
}

var (
	windowCacheMu sync.Mutex
	windowCache   = map[int][]float64{}
)

// Size returns the plan's fixed FFT size.
func (p *Plan) Size() int { return p.size }

// Window returns the cached Hann window coefficients. The caller must
// not mutate the returned slice.
func (p *Plan) Window() []float64 { return p.hann }

// Magnitude computes the magnitude spectrum of a Hann-windowed frame.
// frame must have exactly Size() samples. The returned slice has
// Size()/2+1 bins and is newly allocated on every call, so it stays
// valid across later calls to Magnitude or Spectrum on this plan.
func (p *Plan) Magnitude(frame []float32) []float64 {
	coeffs := p.Spectrum(frame)
	mags := make([]float64, len(coeffs))
	for i, c := range coeffs {
		mags[i] = cmplx.Abs(c)
	}
	return mags
}

// Spectrum computes the complex FFT coefficients of a Hann-windowed
// frame. frame must have exactly Size() samples. The returned slice
// aliases the plan's internal buffer and is valid until the next call.
func (p *Plan) Spectrum(frame []float32) []complex128 {
	if len(frame) != p.size {
		panic("fft: frame length must equal plan size")
	}
	for i, s := range frame {
		p.scratch[i] = float64(s) * p.hann[i]
	}
	p.fft.Coefficients(p.coeffs, p.scratch)
	return p.coeffs
}

// BinFrequency returns the center frequency in Hz of FFT bin i for a
// plan of this size run at the given sample rate.
func (p *Plan) BinFrequency(i int, sampleRate float64) float64 {
	return float64(i) * sampleRate / float64(p.size)
}
