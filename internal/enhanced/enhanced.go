// Package enhanced implements the ensemble coordinator (spec §4.I,
// Component I): runs the pitch, harmonic, and cadence analyzers on a
// window and fuses their outputs into one EnhancedAnalysisProfile plus
// the combined-feature vector used downstream.
//
// Grounded on hammamikhairi-otto's internal/gpt/agent.go composition
// shape: a coordinator struct that alone owns its collaborators and is
// never referenced back by them (spec §9's "cyclic references" redesign
// flag), generalized here from an LLM tool-call loop to a fixed
// three-analyzer fan-out and fusion.
package enhanced

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/dsp/cadence"
	"github.com/brushline/wildcall/internal/dsp/harmonic"
	"github.com/brushline/wildcall/internal/dsp/pitch"
)

// Preset selects the real-time vs high-quality window-size/feature
// trade-off (spec §4.I).
type Preset int

const (
	PresetRealtime Preset = iota
	PresetHighQuality
)

// Config controls which analyzers run and at what preset.
type Config struct {
	SampleRate int
	Preset     Preset

	EnablePitch    bool
	EnableHarmonic bool
	EnableCadence  bool

	Pitch    pitch.Config
	Harmonic harmonic.Config
	Cadence  cadence.Config
}

func (c *Config) defaults() {
	windowSize := 2048
	if c.Preset == PresetRealtime {
		windowSize = 512
	}
	if c.Harmonic.WindowSize <= 0 {
		c.Harmonic.WindowSize = windowSize
	}
	if c.Cadence.FrameSize <= 0 {
		c.Cadence.FrameSize = windowSize
	}
	if c.Preset == PresetRealtime {
		c.Harmonic.MaxHarmonics = minPositive(c.Harmonic.MaxHarmonics, 6)
		if c.Harmonic.MaxHarmonics <= 0 {
			c.Harmonic.MaxHarmonics = 6
		}
	}
}

func minPositive(a, b int) int {
	if a > 0 && a < b {
		return a
	}
	return b
}

// Profile is the fused result of one coordinator tick: up to three
// optional sub-profiles, an overall confidence, a timestamp, a
// validity flag, and the combined-feature vector.
type Profile struct {
	TimestampSec float64
	Valid        bool

	HasPitch bool
	Pitch    pitch.Result

	HasHarmonic bool
	Harmonic    harmonic.Profile

	HasCadence bool
	Cadence    cadence.Profile

	// RMS and Peak are computed genuinely over every analyzed window
	// rather than stubbed to 0 (spec §9's redesign flag: the binding
	// layer previously left these as a 0-with-"stub"-comment).
	RMS  float64
	Peak float64

	OverallConfidence float64
	CombinedFeatures  []float64
}

// Coordinator owns its three sub-analyzers exclusively; none of them
// ever references the Coordinator back (spec §9).
type Coordinator struct {
	cfg Config

	pitchAnalyzer    *pitch.Analyzer
	harmonicAnalyzer *harmonic.Analyzer
	cadenceAnalyzer  *cadence.Analyzer
}

// New creates a Coordinator, constructing only the analyzers enabled
// in cfg.
func New(cfg Config) (*Coordinator, error) {
	cfg.defaults()
	if cfg.SampleRate <= 0 {
		return nil, domain.NewError(domain.StatusInvalidParams, "enhanced: sample rate must be positive")
	}

	c := &Coordinator{cfg: cfg}

	if cfg.EnablePitch {
		cfg.Pitch.SampleRate = cfg.SampleRate
		a, err := pitch.New(cfg.Pitch)
		if err != nil {
			return nil, err
		}
		c.pitchAnalyzer = a
	}
	if cfg.EnableHarmonic {
		cfg.Harmonic.SampleRate = cfg.SampleRate
		a, err := harmonic.New(cfg.Harmonic)
		if err != nil {
			return nil, err
		}
		c.harmonicAnalyzer = a
	}
	if cfg.EnableCadence {
		cfg.Cadence.SampleRate = cfg.SampleRate
		a, err := cadence.New(cfg.Cadence)
		if err != nil {
			return nil, err
		}
		c.cadenceAnalyzer = a
	}

	return c, nil
}

// Analyze runs the enabled analyzers over window (sized to the
// harmonic/pitch window) and the longer cadenceAudio clip, fusing
// results into one Profile at the given session timestamp.
func (c *Coordinator) Analyze(window []float32, cadenceAudio []float32, timestampSec float64) (Profile, error) {
	profile := Profile{TimestampSec: timestampSec}
	profile.RMS, profile.Peak = levelMetrics(window)

	var confidences []float64

	if c.pitchAnalyzer != nil {
		res, err := c.pitchAnalyzer.Analyze(window)
		if err != nil {
			return Profile{}, err
		}
		profile.Pitch = res
		profile.HasPitch = true
		confidences = append(confidences, res.Confidence)
	}

	if c.harmonicAnalyzer != nil {
		h, err := c.harmonicAnalyzer.Analyze(window)
		if err != nil {
			return Profile{}, err
		}
		profile.Harmonic = h
		profile.HasHarmonic = true
		confidences = append(confidences, h.Confidence)
	}

	if c.cadenceAnalyzer != nil {
		cp, err := c.cadenceAnalyzer.AnalyzeCadence(cadenceAudio)
		if err != nil && domain.StatusOf(err) != domain.StatusInsufficientData {
			return Profile{}, err
		}
		profile.Cadence = cp
		profile.HasCadence = true
		confidences = append(confidences, cp.TempoConfidence)
	}

	profile.OverallConfidence = mean(confidences)
	profile.CombinedFeatures = combinedFeatureVector(profile)
	profile.Valid = profile.HasPitch || profile.HasHarmonic || profile.HasCadence

	return profile, nil
}

// combinedFeatureVector builds the fixed-order downstream-classification
// vector named in spec §4.I: fundamental frequency, pitch stability
// (pitch confidence), spectral centroid, HNR, brightness, roughness,
// resonance, estimated tempo, rhythm complexity, and an onset-times
// summary (onset rate in onsets/sec, derived from the detected onset
// times' spacing rather than a bare count of them).
func combinedFeatureVector(p Profile) []float64 {
	var onsetRate float64
	if p.HasCadence {
		onsetRate = p.Cadence.Syllables.Rate
	}
	return []float64{
		p.Pitch.FrequencyHz,
		p.Pitch.Confidence,
		p.Harmonic.SpectralCentroid,
		p.Harmonic.HNRDb,
		p.Harmonic.Brightness,
		p.Harmonic.Roughness,
		p.Harmonic.Resonance,
		p.Cadence.TempoBPM,
		p.Cadence.Complexity,
		onsetRate,
	}
}

// levelMetrics computes the window's RMS and peak absolute amplitude.
func levelMetrics(window []float32) (rms, peak float64) {
	if len(window) == 0 {
		return 0, 0
	}
	samples := make([]float64, len(window))
	for i, s := range window {
		samples[i] = float64(s)
		if abs := math.Abs(samples[i]); abs > peak {
			peak = abs
		}
	}
	rms = math.Sqrt(floats.Dot(samples, samples) / float64(len(samples)))
	return rms, peak
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Characteristics is the derived-traits summary the adaptive config
// function keys off of (spec §4.I).
type Characteristics struct {
	Vocal    bool
	Rhythmic bool
	Tonal    bool
}

// Classify derives Characteristics from one fused Profile using the
// mappings documented in spec §4.I.
func Classify(p Profile) Characteristics {
	var c Characteristics
	if p.HasPitch {
		c.Vocal = p.Pitch.FrequencyHz >= 80 && p.Pitch.FrequencyHz <= 1000 && p.Pitch.Confidence > 0.7
	}
	if p.HasCadence {
		c.Rhythmic = p.Cadence.TempoBPM > 60 && p.Cadence.TempoBPM < 200
	}
	if p.HasHarmonic {
		c.Tonal = p.Harmonic.HNRDb > 10
	}
	return c
}

// AdaptConfig mutates cfg to enable formant tracking + syllable
// analysis for vocal profiles, beat tracking + onset detection for
// rhythmic profiles, per spec §4.I's adaptive-configuration mapping.
// Tonal characteristics require no extra fields beyond what harmonic
// analysis already always computes.
func AdaptConfig(cfg *Config, c Characteristics) {
	if c.Vocal {
		if cfg.Harmonic.MaxFormants < 4 {
			cfg.Harmonic.MaxFormants = 4
		}
		cfg.EnableHarmonic = true
		cfg.EnableCadence = true
		cfg.EnablePitch = true
	}
	if c.Rhythmic {
		cfg.EnableCadence = true
	}
}
