// Package mfcc implements the per-frame MFCC extractor (spec §4.C,
// Component C): Hann window → magnitude FFT → mel filterbank → log
// energies → DCT-II, keeping the first NumCoeffs coefficients.
//
// Grounded on haivivi-giztoy's go-pkg-audio-fbank (Config struct with
// documented defaults, New constructor, per-frame Extract method),
// generalized from its fixed 80-mel/Kaldi convention to a configurable
// 26-mel/13-coefficient default, and rebuilt on
// gonum.org/v1/gonum/{dsp/fourier via internal/dsp/fft, mat} instead
// of a hand-rolled FFT.
package mfcc

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/dsp/fft"
)

// Config controls MFCC extraction. Zero-value fields are filled in by
// defaults().
type Config struct {
	SampleRate int     // audio sample rate in Hz
	WindowSize int     // power-of-two frame size in samples
	MelFilters int     // number of mel filterbank triangles (default 26)
	NumCoeffs  int     // number of MFCC coefficients kept (default 13)
	MinFreq    float64 // lower mel filterbank bound in Hz (default 0)
	MaxFreq    float64 // upper mel filterbank bound in Hz (default SampleRate/2)
}

func (c *Config) defaults() {
	if c.MelFilters <= 0 {
		c.MelFilters = 26
	}
	if c.NumCoeffs <= 0 {
		c.NumCoeffs = 13
	}
	if c.MaxFreq <= 0 {
		c.MaxFreq = float64(c.SampleRate) / 2
	}
}

// Extractor computes MFCC feature vectors from fixed-size frames. It
// is stateless across frames once configured (spec §4.C): Extract
// never reads or writes any field set up after New returns, aside
// from the FFT plan's own per-call scratch buffers.
type Extractor struct {
	cfg      Config
	plan     *fft.Plan
	melBank  *mat.Dense // MelFilters x (WindowSize/2+1)
	dctBasis *mat.Dense // NumCoeffs x MelFilters
}

// New creates an Extractor for the given configuration.
func New(cfg Config) (*Extractor, error) {
	cfg.defaults()
	if cfg.SampleRate <= 0 || cfg.WindowSize <= 0 || cfg.WindowSize&(cfg.WindowSize-1) != 0 {
		return nil, domain.NewError(domain.StatusInvalidParams, "mfcc: sample rate and power-of-two window size are required")
	}
	if cfg.MinFreq < 0 || cfg.MaxFreq <= cfg.MinFreq {
		return nil, domain.NewError(domain.StatusInvalidParams, "mfcc: invalid frequency bounds")
	}

	return &Extractor{
		cfg:      cfg,
		plan:     fft.NewPlan(cfg.WindowSize),
		melBank:  melFilterbank(cfg.MelFilters, cfg.WindowSize, cfg.SampleRate, cfg.MinFreq, cfg.MaxFreq),
		dctBasis: dctIIBasis(cfg.NumCoeffs, cfg.MelFilters),
	}, nil
}

// NumCoeffs returns the number of coefficients each Extract call
// produces.
func (e *Extractor) NumCoeffs() int { return e.cfg.NumCoeffs }

// Extract computes the MFCC feature vector of one frame. frame must
// have exactly WindowSize samples.
func (e *Extractor) Extract(frame []float32) (domain.FeatureVector, error) {
	if len(frame) != e.cfg.WindowSize {
		return nil, domain.NewError(domain.StatusInvalidParams, "mfcc: frame length must equal window size")
	}

	mags := e.plan.Magnitude(frame)
	power := make([]float64, len(mags))
	for i, m := range mags {
		power[i] = m * m
	}
	powerVec := mat.NewVecDense(len(power), power)

	melEnergies := mat.NewVecDense(e.cfg.MelFilters, nil)
	melEnergies.MulVec(e.melBank, powerVec)

	logEnergies := make([]float64, e.cfg.MelFilters)
	for i := 0; i < e.cfg.MelFilters; i++ {
		v := melEnergies.AtVec(i)
		const floor = 1e-10
		if v < floor {
			v = floor
		}
		logEnergies[i] = math.Log(v)
	}
	logVec := mat.NewVecDense(e.cfg.MelFilters, logEnergies)

	coeffsVec := mat.NewVecDense(e.cfg.NumCoeffs, nil)
	coeffsVec.MulVec(e.dctBasis, logVec)

	out := make(domain.FeatureVector, e.cfg.NumCoeffs)
	for i := range out {
		out[i] = float32(coeffsVec.AtVec(i))
	}
	return out, nil
}

// hzToMel converts a frequency in Hz to the mel scale.
func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

// melToHz converts a mel-scale value back to Hz.
func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterbank builds a (numFilters x (fftSize/2+1)) matrix of
// triangular filters spaced linearly on the mel scale between minHz
// and maxHz.
func melFilterbank(numFilters, fftSize, sampleRate int, minHz, maxHz float64) *mat.Dense {
	numBins := fftSize/2 + 1
	minMel := hzToMel(minHz)
	maxMel := hzToMel(maxHz)

	// numFilters triangles need numFilters+2 boundary points.
	points := make([]float64, numFilters+2)
	for i := range points {
		mel := minMel + (maxMel-minMel)*float64(i)/float64(numFilters+1)
		points[i] = melToHz(mel)
	}
	binFreq := func(bin int) float64 {
		return float64(bin) * float64(sampleRate) / float64(fftSize)
	}

	bank := mat.NewDense(numFilters, numBins, nil)
	for m := 0; m < numFilters; m++ {
		left, center, right := points[m], points[m+1], points[m+2]
		for k := 0; k < numBins; k++ {
			f := binFreq(k)
			var w float64
			switch {
			case f < left || f > right:
				w = 0
			case f <= center:
				if center > left {
					w = (f - left) / (center - left)
				}
			default:
				if right > center {
					w = (right - f) / (right - center)
				}
			}
			if w > 0 {
				bank.Set(m, k, w)
			}
		}
	}
	return bank
}

// dctIIBasis builds an (numCoeffs x numFilters) orthonormal DCT-II
// basis matrix; row 0 (scaled by 1/sqrt(numFilters) rather than
// sqrt(2/numFilters)) is the frame-energy coefficient per spec §4.C.
func dctIIBasis(numCoeffs, numFilters int) *mat.Dense {
	basis := mat.NewDense(numCoeffs, numFilters, nil)
	for k := 0; k < numCoeffs; k++ {
		scale := math.Sqrt(2.0 / float64(numFilters))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(numFilters))
		}
		for m := 0; m < numFilters; m++ {
			v := scale * math.Cos(math.Pi/float64(numFilters)*(float64(m)+0.5)*float64(k))
			basis.Set(k, m, v)
		}
	}
	return basis
}
