// Package harmonic implements the per-window spectral/harmonic
// descriptor analyzer (spec §4.E, Component E): spectral shape
// descriptors, harmonic-to-noise ratio, formant peaks, and tonal
// quality scalars.
//
// Grounded directly on the original HarmonicAnalyzer.cpp: the harmonic
// search (integer-multiple tolerance window around f0), the HNR
// formula, and the tonal-quality closed forms are ported verbatim
// (adapted to Go, not translated line-for-line) rather than
// reinvented — see SPEC_FULL.md §4 for the pinned equations.
package harmonic

import (
	"math"
	"sort"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/dsp/fft"
)

// Config controls the analyzer's frequency band, harmonic search, and
// formant search.
type Config struct {
	SampleRate int
	WindowSize int
	MinFreq    float64 // fundamental search lower bound (default 60 Hz)
	MaxFreq    float64 // fundamental search upper bound (default 1500 Hz)
	// MaxHarmonics caps the integer multiples of f0 searched for.
	MaxHarmonics int
	// HarmonicTolerance is the fractional search window around k*f0,
	// e.g. 0.05 searches +/-5%.
	HarmonicTolerance float64
	// MaxFormants caps the number of formant peaks returned.
	MaxFormants int
}

func (c *Config) defaults() {
	if c.MinFreq <= 0 {
		c.MinFreq = 60
	}
	if c.MaxFreq <= 0 {
		c.MaxFreq = 1500
	}
	if c.MaxHarmonics <= 0 {
		c.MaxHarmonics = 10
	}
	if c.HarmonicTolerance <= 0 {
		c.HarmonicTolerance = 0.05
	}
	if c.MaxFormants <= 0 {
		c.MaxFormants = 4
	}
}

// Harmonic is one detected partial.
type Harmonic struct {
	FrequencyHz float64
	Amplitude   float64
}

// Formant is one detected resonance peak.
type Formant struct {
	FrequencyHz float64
	Amplitude   float64
}

// Profile is one window's harmonic analysis (spec §4.E).
type Profile struct {
	FundamentalHz    float64
	SpectralCentroid float64
	SpectralSpread   float64
	SpectralRolloff  float64
	SpectralFlatness float64
	HNRDb            float64
	Inharmonicity    float64
	Harmonics        []Harmonic
	Formants         []Formant
	Rasp             float64
	Whine            float64
	Resonance        float64
	Brightness       float64
	Roughness        float64
	Confidence       float64
}

// Analyzer computes harmonic profiles from fixed-size windows. Each
// Analyzer owns a private FFT plan; it shares no mutable state with
// any other analyzer.
type Analyzer struct {
	cfg  Config
	plan *fft.Plan
}

// New creates a harmonic Analyzer.
func New(cfg Config) (*Analyzer, error) {
	cfg.defaults()
	if cfg.SampleRate <= 0 || cfg.WindowSize <= 0 || cfg.WindowSize&(cfg.WindowSize-1) != 0 {
		return nil, domain.NewError(domain.StatusInvalidParams, "harmonic: sample rate and power-of-two window size are required")
	}
	if cfg.MinFreq <= 0 || cfg.MaxFreq <= cfg.MinFreq {
		return nil, domain.NewError(domain.StatusInvalidParams, "harmonic: invalid frequency band")
	}
	return &Analyzer{cfg: cfg, plan: fft.NewPlan(cfg.WindowSize)}, nil
}

// Analyze computes the harmonic profile of one window.
func (a *Analyzer) Analyze(window []float32) (Profile, error) {
	if len(window) != a.cfg.WindowSize {
		return Profile{}, domain.NewError(domain.StatusInvalidParams, "harmonic: window length must equal configured window size")
	}

	mags := a.plan.Magnitude(window)
	sampleRate := float64(a.cfg.SampleRate)
	binHz := sampleRate / float64(a.cfg.WindowSize)

	totalEnergy := 0.0
	for _, m := range mags {
		totalEnergy += m * m
	}
	if totalEnergy <= 0 {
		return Profile{}, nil
	}

	f0 := a.findFundamental(mags, binHz)
	centroid := spectralCentroid(mags, binHz)
	spread := spectralSpread(mags, binHz, centroid)
	rolloff := spectralRolloff(mags, binHz, 0.85)
	flatness := spectralFlatness(mags)

	var harmonics []Harmonic
	var hnrDb, inharmonicity float64
	if f0 > 0 {
		harmonics, hnrDb, inharmonicity = a.analyzeHarmonics(mags, binHz, f0, totalEnergy)
	}

	formants := a.findFormants(mags, binHz)

	highFreqEnergy := 0.0
	for i, m := range mags {
		if float64(i)*binHz > 2000 {
			highFreqEnergy += m * m
		}
	}

	rasp := domain.Clamp01(highFreqEnergy / totalEnergy * 3)
	whine := domain.Clamp01(centroid / 3000)
	resonance := 1 - domain.Clamp01(inharmonicity*10)
	brightness := 0.0
	if f0 > 0 {
		brightness = domain.Clamp01(centroid / (3 * f0))
	}
	roughness := 1 - flatness

	avgHarmonicRatio := 0.0
	if len(harmonics) > 0 {
		harmonicEnergy := 0.0
		for _, h := range harmonics {
			harmonicEnergy += h.Amplitude * h.Amplitude
		}
		avgHarmonicRatio = domain.Clamp01(harmonicEnergy / totalEnergy)
	}
	confidence := domain.Clamp01(
		0.4*avgHarmonicRatio +
			0.3*domain.Clamp01(hnrDb/20) +
			0.3*(1-domain.Clamp01(inharmonicity*5)),
	)

	return Profile{
		FundamentalHz:    f0,
		SpectralCentroid: centroid,
		SpectralSpread:   spread,
		SpectralRolloff:  rolloff,
		SpectralFlatness: flatness,
		HNRDb:            hnrDb,
		Inharmonicity:    inharmonicity,
		Harmonics:        harmonics,
		Formants:         formants,
		Rasp:             rasp,
		Whine:            whine,
		Resonance:        resonance,
		Brightness:       brightness,
		Roughness:        roughness,
		Confidence:       confidence,
	}, nil
}

// findFundamental returns the largest magnitude bin within
// [MinFreq, MaxFreq], or 0 if the band contains no energy.
func (a *Analyzer) findFundamental(mags []float64, binHz float64) float64 {
	loBin := int(a.cfg.MinFreq / binHz)
	hiBin := int(a.cfg.MaxFreq / binHz)
	if hiBin >= len(mags) {
		hiBin = len(mags) - 1
	}
	best := -1
	bestMag := 0.0
	for i := loBin; i <= hiBin; i++ {
		if i < 0 || i >= len(mags) {
			continue
		}
		if mags[i] > bestMag {
			bestMag = mags[i]
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return float64(best) * binHz
}

// analyzeHarmonics searches a tolerance window around each integer
// multiple of f0 for a local max, collecting amplitudes; HNR and
// inharmonicity follow from the collected set.
func (a *Analyzer) analyzeHarmonics(mags []float64, binHz, f0, totalEnergy float64) ([]Harmonic, float64, float64) {
	var harmonics []Harmonic
	harmonicEnergy := 0.0
	deviationSum := 0.0

	for k := 1; k <= a.cfg.MaxHarmonics; k++ {
		target := float64(k) * f0
		if target >= float64(len(mags))*binHz {
			break
		}
		tolerance := target * a.cfg.HarmonicTolerance
		loBin := int((target - tolerance) / binHz)
		hiBin := int((target + tolerance) / binHz)
		if loBin < 0 {
			loBin = 0
		}
		if hiBin >= len(mags) {
			hiBin = len(mags) - 1
		}
		if loBin > hiBin {
			continue
		}

		best := loBin
		for i := loBin; i <= hiBin; i++ {
			if mags[i] > mags[best] {
				best = i
			}
		}
		if mags[best] <= 0 {
			continue
		}

		freq := float64(best) * binHz
		harmonics = append(harmonics, Harmonic{FrequencyHz: freq, Amplitude: mags[best]})
		harmonicEnergy += mags[best] * mags[best]
		deviationSum += math.Abs(freq-target) / target
	}

	hnrDb := -60.0
	noiseEnergy := totalEnergy - harmonicEnergy
	if noiseEnergy > 0 && harmonicEnergy > 0 {
		hnrDb = 10 * math.Log10(harmonicEnergy/noiseEnergy)
	} else if harmonicEnergy > 0 {
		hnrDb = 60
	}

	inharmonicity := 0.0
	if len(harmonics) > 0 {
		inharmonicity = deviationSum / float64(len(harmonics))
	}

	return harmonics, hnrDb, inharmonicity
}

// findFormants finds the top-MaxFormants local maxima in the
// 200-4000 Hz band by magnitude, then re-sorts the result by
// frequency.
func (a *Analyzer) findFormants(mags []float64, binHz float64) []Formant {
	loBin := int(200 / binHz)
	hiBin := int(4000 / binHz)
	if hiBin >= len(mags) {
		hiBin = len(mags) - 1
	}

	var candidates []Formant
	for i := loBin + 1; i < hiBin; i++ {
		if i <= 0 || i+1 >= len(mags) {
			continue
		}
		if mags[i] > mags[i-1] && mags[i] > mags[i+1] {
			candidates = append(candidates, Formant{FrequencyHz: float64(i) * binHz, Amplitude: mags[i]})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Amplitude > candidates[j].Amplitude })
	if len(candidates) > a.cfg.MaxFormants {
		candidates = candidates[:a.cfg.MaxFormants]
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].FrequencyHz < candidates[j].FrequencyHz })
	return candidates
}

func spectralCentroid(mags []float64, binHz float64) float64 {
	weightedSum, magSum := 0.0, 0.0
	for i, m := range mags {
		weightedSum += float64(i) * binHz * m
		magSum += m
	}
	if magSum <= 0 {
		return 0
	}
	return weightedSum / magSum
}

func spectralSpread(mags []float64, binHz, centroid float64) float64 {
	weightedSum, magSum := 0.0, 0.0
	for i, m := range mags {
		d := float64(i)*binHz - centroid
		weightedSum += d * d * m
		magSum += m
	}
	if magSum <= 0 {
		return 0
	}
	return math.Sqrt(weightedSum / magSum)
}

func spectralRolloff(mags []float64, binHz, fraction float64) float64 {
	total := 0.0
	for _, m := range mags {
		total += m * m
	}
	if total <= 0 {
		return 0
	}
	threshold := total * fraction
	cum := 0.0
	for i, m := range mags {
		cum += m * m
		if cum >= threshold {
			return float64(i) * binHz
		}
	}
	return float64(len(mags)-1) * binHz
}

// spectralFlatness is the ratio of the geometric mean to the
// arithmetic mean of the magnitude spectrum, in [0, 1].
func spectralFlatness(mags []float64) float64 {
	n := len(mags)
	if n == 0 {
		return 0
	}
	const floor = 1e-12
	logSum := 0.0
	arithSum := 0.0
	for _, m := range mags {
		v := m
		if v < floor {
			v = floor
		}
		logSum += math.Log(v)
		arithSum += v
	}
	geoMean := math.Exp(logSum / float64(n))
	arithMean := arithSum / float64(n)
	if arithMean <= 0 {
		return 0
	}
	return domain.Clamp01(geoMean / arithMean)
}
