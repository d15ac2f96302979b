// Package pitch implements the per-window fundamental-frequency
// estimator (spec §4.D, Component D): autocorrelation-based (YIN-style)
// detection restricted to a configured frequency band, with confidence
// derived from the depth of the autocorrelation trough.
//
// Grounded on the autocorrelation-dot-product pattern used throughout
// original_source/src/core/CadenceAnalyzer.cpp's computeAutocorrelation,
// here applied to a single analysis window's fundamental estimate
// rather than a tempo lag, using gonum.org/v1/gonum/floats for the
// lagged dot products.
package pitch

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/brushline/wildcall/internal/domain"
)

// Config controls the analyzer's frequency band and sensitivity.
type Config struct {
	SampleRate int
	// MinFreq and MaxFreq bound the searched fundamental range in Hz.
	MinFreq float64
	MaxFreq float64
	// SilenceRMS is the near-silent-frame threshold below which
	// analyze reports zero confidence without searching for a lag.
	SilenceRMS float64
}

func (c *Config) defaults() {
	if c.MinFreq <= 0 {
		c.MinFreq = 60
	}
	if c.MaxFreq <= 0 {
		c.MaxFreq = 1500
	}
	if c.SilenceRMS <= 0 {
		c.SilenceRMS = 1e-4
	}
}

// Result is one window's pitch estimate.
type Result struct {
	FrequencyHz float64
	Confidence  float64
	// VibratoRate is 0 when not computed; Analyzer does not estimate
	// vibrato from a single window (it requires a history of F0
	// estimates, tracked by the caller across successive windows).
	VibratoRate float64
}

// Analyzer estimates a single fundamental frequency per window. It is
// resettable only in the sense that it carries no state between calls:
// every Analyze call is a pure function of its input window and the
// fixed configuration it was built with.
type Analyzer struct {
	cfg Config
}

// New creates a pitch Analyzer.
func New(cfg Config) (*Analyzer, error) {
	cfg.defaults()
	if cfg.SampleRate <= 0 {
		return nil, domain.NewError(domain.StatusInvalidParams, "pitch: sample rate must be positive")
	}
	if cfg.MinFreq <= 0 || cfg.MaxFreq <= cfg.MinFreq {
		return nil, domain.NewError(domain.StatusInvalidParams, "pitch: invalid frequency band")
	}
	return &Analyzer{cfg: cfg}, nil
}

// Analyze estimates the fundamental frequency of one window of mono
// samples. Near-silent windows (RMS below the configured epsilon)
// report confidence 0 and frequency 0, never an error.
func (a *Analyzer) Analyze(window []float32) (Result, error) {
	if len(window) < 2 {
		return Result{}, domain.NewError(domain.StatusInsufficientData, "pitch: window too short")
	}

	samples := make([]float64, len(window))
	for i, s := range window {
		samples[i] = float64(s)
	}

	rms := rootMeanSquare(samples)
	if rms < a.cfg.SilenceRMS {
		return Result{FrequencyHz: 0, Confidence: 0}, nil
	}

	minLag := int(float64(a.cfg.SampleRate) / a.cfg.MaxFreq)
	maxLag := int(float64(a.cfg.SampleRate) / a.cfg.MinFreq)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(samples) {
		maxLag = len(samples) - 1
	}
	if minLag >= maxLag {
		return Result{FrequencyHz: 0, Confidence: 0}, nil
	}

	zeroLagEnergy := floats.Dot(samples, samples)
	if zeroLagEnergy <= 0 {
		return Result{FrequencyHz: 0, Confidence: 0}, nil
	}

	// YIN-style: minimize the difference function d(tau) rather than
	// maximize raw autocorrelation, so the "trough" is a literal
	// minimum and confidence is 1 - normalized trough depth. The first
	// lag whose normalized difference drops below dipThreshold is
	// followed down to its local minimum and taken, so a lag spanning
	// several periods is not chosen over the fundamental period; when
	// no lag drops below it, the global minimum is used.
	const dipThreshold = 0.1
	bestLag := -1
	bestDiff := math.Inf(1)
	for lag := minLag; lag <= maxLag; lag++ {
		diff := differenceFunction(samples, lag)
		if diff/(2*zeroLagEnergy) < dipThreshold {
			for lag < maxLag {
				next := differenceFunction(samples, lag+1)
				if next >= diff {
					break
				}
				lag, diff = lag+1, next
			}
			bestLag, bestDiff = lag, diff
			break
		}
		if diff < bestDiff {
			bestDiff = diff
			bestLag = lag
		}
	}
	if bestLag < 0 {
		return Result{FrequencyHz: 0, Confidence: 0}, nil
	}

	normalizedDiff := bestDiff / (2 * zeroLagEnergy)
	confidence := domain.Clamp01(1 - normalizedDiff)

	freq := float64(a.cfg.SampleRate) / float64(bestLag)
	if freq < a.cfg.MinFreq || freq > a.cfg.MaxFreq {
		return Result{FrequencyHz: 0, Confidence: 0}, nil
	}

	return Result{FrequencyHz: freq, Confidence: confidence}, nil
}

// differenceFunction computes the YIN difference function at a single
// lag: sum of squared differences between the signal and its
// lag-shifted copy over the overlapping span.
func differenceFunction(samples []float64, lag int) float64 {
	n := len(samples) - lag
	if n <= 0 {
		return math.Inf(1)
	}
	diff := make([]float64, n)
	floats.SubTo(diff, samples[:n], samples[lag:lag+n])
	return floats.Dot(diff, diff)
}

func rootMeanSquare(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sumSq := floats.Dot(samples, samples)
	return math.Sqrt(sumSq / float64(len(samples)))
}
