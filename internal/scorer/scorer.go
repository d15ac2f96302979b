// Package scorer implements the realtime scorer (spec §4.K, Component
// K): fuses a per-tick DTW-style MFCC distance with volume/timing/
// pitch descriptors into a SimilarityScore, and derives a
// human-facing RealtimeFeedback summary.
//
// Grounded on hammamikhairi-otto's internal/timer/supervisor.go: the
// functional-options configuration pattern and threshold/escalation
// fields are adapted here into the scorer's weights and quality
// bands. The supervisor's background-ticking goroutine is not carried
// over — spec §5 requires every core operation to be synchronous, so
// a "tick" here is just a method call driven by the caller's
// process_audio_chunk, never a goroutine (see DESIGN.md).
package scorer

import (
	"io"
	"math"
	"sort"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/dtw"
	"github.com/brushline/wildcall/internal/logger"
)

// Config controls scoring weights, history depth, and thresholds.
type Config struct {
	WeightMFCC   float64
	WeightVolume float64
	WeightTiming float64
	WeightPitch  float64

	// HistoryDepth bounds the ring of historical scores kept for trend
	// display. Must be >= 1.
	HistoryDepth int

	ConfidenceThreshold float64
	MatchThreshold      float64

	// SaturationSamples is the samplesAnalyzed count at which
	// confidence stops growing from sample count alone and starts
	// tracking sub-score agreement instead.
	SaturationSamples uint64

	log *logger.Logger
}

func (c *Config) defaults() {
	if c.WeightMFCC == 0 && c.WeightVolume == 0 && c.WeightTiming == 0 && c.WeightPitch == 0 {
		c.WeightMFCC, c.WeightVolume, c.WeightTiming, c.WeightPitch = 0.4, 0.2, 0.2, 0.2
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 20
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.6
	}
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = 0.7
	}
	if c.SaturationSamples == 0 {
		c.SaturationSamples = 88200 // 2 seconds at 44.1kHz
	}
	if c.log == nil {
		c.log = logger.New(logger.LevelOff, io.Discard)
	}
}

// Option configures a Scorer.
type Option func(*Config)

// WithWeights overrides the four sub-score weights, which must sum to
// 1.0 within tolerance 1e-3.
func WithWeights(mfcc, volume, timing, pitch float64) Option {
	return func(c *Config) {
		c.WeightMFCC, c.WeightVolume, c.WeightTiming, c.WeightPitch = mfcc, volume, timing, pitch
	}
}

// WithHistoryDepth overrides the bounded score-history ring size.
func WithHistoryDepth(n int) Option {
	return func(c *Config) { c.HistoryDepth = n }
}

// WithThresholds overrides the reliability and match thresholds.
func WithThresholds(confidence, match float64) Option {
	return func(c *Config) {
		c.ConfidenceThreshold = confidence
		c.MatchThreshold = match
	}
}

// WithLogger attaches a logger for new-peak tracing.
func WithLogger(log *logger.Logger) Option {
	return func(c *Config) { c.log = log }
}

// Feedback is the user-facing summary produced alongside each score
// (spec §4.K).
type Feedback struct {
	Current        domain.SimilarityScore
	Trending       domain.SimilarityScore
	Peak           domain.SimilarityScore
	Quality        string
	ProgressRatio  float64
	Recommendation string
}

// Scorer fuses per-tick descriptors into a SimilarityScore, keeping a
// bounded history and a running peak. It owns its history and peak
// exclusively; callers never reach into it across sessions.
type Scorer struct {
	cfg     Config
	history []domain.SimilarityScore // newest first, len <= cfg.HistoryDepth
	peak    domain.SimilarityScore
}

// New creates a Scorer from the given options over the documented
// defaults. Fails INVALID_PARAMS if the weights do not sum to 1.0
// within tolerance 1e-3.
func New(opts ...Option) (*Scorer, error) {
	cfg := Config{}
	cfg.defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	sum := cfg.WeightMFCC + cfg.WeightVolume + cfg.WeightTiming + cfg.WeightPitch
	if math.Abs(sum-1.0) > 1e-3 {
		return nil, domain.NewError(domain.StatusInvalidParams, "scorer: weights must sum to 1.0 within tolerance 1e-3")
	}
	if cfg.HistoryDepth < 1 {
		return nil, domain.NewError(domain.StatusInvalidParams, "scorer: history depth must be >= 1")
	}
	return &Scorer{cfg: cfg}, nil
}

// Tick consumes one update's worth of descriptors and emits a
// SimilarityScore. dtwResult's Similarity is the MFCC sub-score
// (Feedback bands quality on 1 minus that sub-score); volume/timing/pitch are
// independently [0,1]-clamped sub-scores (pitch may be 0 if pitch
// analysis is disabled for the session).
func (s *Scorer) Tick(dtwResult dtw.Result, volume, timing, pitch float64, samplesAnalyzed uint64) domain.SimilarityScore {
	mfcc := domain.Clamp01(dtwResult.Similarity)
	volume = domain.Clamp01(volume)
	timing = domain.Clamp01(timing)
	pitch = domain.Clamp01(pitch)

	overall := domain.Clamp01(
		s.cfg.WeightMFCC*mfcc +
			s.cfg.WeightVolume*volume +
			s.cfg.WeightTiming*timing +
			s.cfg.WeightPitch*pitch,
	)

	confidence := s.confidence(samplesAnalyzed, []float64{mfcc, volume, timing, pitch})

	score := domain.SimilarityScore{
		Overall:         overall,
		MFCC:            mfcc,
		Volume:          volume,
		Timing:          timing,
		Pitch:           pitch,
		Confidence:      confidence,
		SamplesAnalyzed: samplesAnalyzed,
		IsReliable:      confidence >= s.cfg.ConfidenceThreshold,
		IsMatch:         overall >= s.cfg.MatchThreshold,
	}

	s.pushHistory(score)
	if score.Overall > s.peak.Overall {
		s.peak = score
		s.cfg.log.Debug("scorer: new peak overall=%.3f samples=%d", score.Overall, samplesAnalyzed)
	}

	return score
}

// confidence grows monotonically with samplesAnalyzed until
// SaturationSamples, then tracks sub-score agreement (1 - standard
// deviation of the four sub-scores).
func (s *Scorer) confidence(samplesAnalyzed uint64, subScores []float64) float64 {
	fromCount := domain.Clamp01(float64(samplesAnalyzed) / float64(s.cfg.SaturationSamples))
	if fromCount < 1 {
		return fromCount
	}
	return domain.Clamp01(1 - stddev(subScores))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}

func (s *Scorer) pushHistory(score domain.SimilarityScore) {
	s.history = append([]domain.SimilarityScore{score}, s.history...)
	if len(s.history) > s.cfg.HistoryDepth {
		s.history = s.history[:s.cfg.HistoryDepth]
	}
}

// History returns the bounded score history, newest first. The
// returned slice must not be mutated by the caller.
func (s *Scorer) History() []domain.SimilarityScore { return s.history }

// Reset clears all scoring history and the running peak.
func (s *Scorer) Reset() {
	s.history = nil
	s.peak = domain.SimilarityScore{}
}

// Feedback produces a RealtimeFeedback summary given the session's
// processed and reference durations in seconds.
func (s *Scorer) Feedback(processedDurationSec, referenceDurationSec float64) Feedback {
	var current domain.SimilarityScore
	if len(s.history) > 0 {
		current = s.history[0]
	}

	trending := s.trending()

	progress := 0.0
	if referenceDurationSec > 0 {
		progress = domain.Clamp01(processedDurationSec / referenceDurationSec)
	}

	distance := 1 - current.MFCC

	return Feedback{
		Current:        current,
		Trending:       trending,
		Peak:           s.peak,
		Quality:        qualityBand(distance),
		ProgressRatio:  progress,
		Recommendation: recommendation(current),
	}
}

// trending averages up to the five most recent history entries.
func (s *Scorer) trending() domain.SimilarityScore {
	n := len(s.history)
	if n == 0 {
		return domain.SimilarityScore{}
	}
	if n > 5 {
		n = 5
	}
	var out domain.SimilarityScore
	for i := 0; i < n; i++ {
		h := s.history[i]
		out.Overall += h.Overall
		out.MFCC += h.MFCC
		out.Volume += h.Volume
		out.Timing += h.Timing
		out.Pitch += h.Pitch
		out.Confidence += h.Confidence
	}
	f := float64(n)
	out.Overall /= f
	out.MFCC /= f
	out.Volume /= f
	out.Timing /= f
	out.Pitch /= f
	out.Confidence /= f
	out.SamplesAnalyzed = s.history[0].SamplesAnalyzed
	return out
}

func qualityBand(distance float64) string {
	switch {
	case distance <= 0.003:
		return "Excellent"
	case distance <= 0.007:
		return "Great"
	case distance <= 0.015:
		return "Good"
	case distance <= 0.025:
		return "Fair"
	default:
		return "Needs improvement"
	}
}

func recommendation(score domain.SimilarityScore) string {
	type dim struct {
		name  string
		value float64
	}
	dims := []dim{
		{"your MFCC tone match", score.MFCC},
		{"your volume envelope", score.Volume},
		{"your timing", score.Timing},
		{"your pitch", score.Pitch},
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i].value < dims[j].value })
	weakest := dims[0]

	if score.Overall >= 0.9 {
		return "Excellent match, keep it up."
	}
	return "Focus on " + weakest.name + " to improve the match."
}
