// Package cadence implements the sliding-window rhythm analyzer
// (spec §4.F, Component F): onset detection, tempo estimation, and
// autocorrelation-based periodicity over multi-second horizons.
//
// Grounded directly on the original CadenceAnalyzer.cpp: the
// onset-detection fast/full split, the peak-picking fallback
// sequence, the tempo histogram with autocorrelation fallback, the
// periodicity max-lag/stride-decimation schedule, and the rhythmic
// and syllable descriptor closed forms are ported from there (see
// SPEC_FULL.md §4 for the pinned equations). klauspost/cpuid/v2 gates
// the unrolled autocorrelation accumulation path in place of the
// original's compile-time `#if defined(__AVX2__)` branch.
package cadence

import (
	"math"
	"sort"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/dsp/fft"
)

// Mode selects the onset-detection and periodicity regime (spec §9's
// "fast"/"default"/"forced-full" open question, resolved as an enum
// rather than ad hoc booleans).
type Mode int

const (
	ModeDefault Mode = iota
	ModeFast
	ModeForcedFull
)

// Config controls frame sizing, tempo bounds, and analysis mode.
type Config struct {
	SampleRate int
	FrameSize  int
	HopSize    int
	MinTempo   float64 // BPM, default 40
	MaxTempo   float64 // BPM, default 240
	Mode       Mode
}

func (c *Config) defaults() {
	if c.FrameSize <= 0 {
		c.FrameSize = 1024
	}
	if c.HopSize <= 0 {
		c.HopSize = c.FrameSize / 2
	}
	if c.MinTempo <= 0 {
		c.MinTempo = 40
	}
	if c.MaxTempo <= 0 {
		c.MaxTempo = 240
	}
}

// PeriodStrength is one (period, strength) autocorrelation peak.
type PeriodStrength struct {
	PeriodSec float64
	Strength  float64
}

// SyllableProfile describes syllable-level timing derived from onsets.
type SyllableProfile struct {
	Onsets       []float64
	Durations    []float64
	Rate         float64 // syllables per second
	SpeechRhythm float64
}

// Profile is one analysis window's cadence result (spec §4.F).
type Profile struct {
	DominantPeriodSec   float64
	PeriodicityStrength float64
	Periods             []PeriodStrength
	TempoBPM            float64
	TempoConfidence     float64
	BeatTimes           []float64

	Regularity  float64
	Complexity  float64
	Syncopation float64
	Groove      float64

	Syllables SyllableProfile

	// RhythmStrength is the periodicity strength exposed as its own
	// field, never aliased to a confidence scalar (spec §9).
	RhythmStrength     float64
	OverallRhythmScore float64
}

// Analyzer tracks streaming cadence state across process_audio_chunk
// calls. It owns its FFT plan and accumulated-audio buffer exclusively.
type Analyzer struct {
	cfg  Config
	plan *fft.Plan

	buffer      []float32
	frameCount  int
	lastOnsetFn []float64
	last        Profile
}

// New creates a cadence Analyzer.
func New(cfg Config) (*Analyzer, error) {
	cfg.defaults()
	if cfg.SampleRate <= 0 {
		return nil, domain.NewError(domain.StatusInvalidParams, "cadence: sample rate must be positive")
	}
	if cfg.FrameSize <= 0 || cfg.FrameSize&(cfg.FrameSize-1) != 0 {
		return nil, domain.NewError(domain.StatusInvalidParams, "cadence: frame size must be a positive power of two")
	}
	if cfg.HopSize <= 0 || cfg.HopSize >= cfg.FrameSize {
		return nil, domain.NewError(domain.StatusInvalidParams, "cadence: hop size must be positive and less than frame size")
	}
	if cfg.MinTempo <= 0 || cfg.MaxTempo <= cfg.MinTempo {
		return nil, domain.NewError(domain.StatusInvalidParams, "cadence: invalid tempo band")
	}
	return &Analyzer{cfg: cfg, plan: fft.NewPlan(cfg.FrameSize)}, nil
}

// AnalyzeCadence runs a one-shot analysis over a complete audio clip.
func (a *Analyzer) AnalyzeCadence(audio []float32) (Profile, error) {
	return a.analyze(audio)
}

// ProcessAudioChunk appends chunk to the streaming buffer and
// recomputes the current profile, advancing the frame counter by the
// number of whole hops the new data covers.
func (a *Analyzer) ProcessAudioChunk(chunk []float32) (domain.Status, error) {
	if len(chunk) == 0 {
		return domain.StatusOK, nil
	}
	a.buffer = append(a.buffer, chunk...)
	a.frameCount += len(chunk) / a.cfg.HopSize

	profile, err := a.analyze(a.buffer)
	if err != nil {
		if domain.StatusOf(err) == domain.StatusInsufficientData {
			return domain.StatusOK, nil
		}
		return domain.StatusProcessingError, err
	}
	a.last = profile
	return domain.StatusOK, nil
}

// CurrentProfile returns the most recently computed profile.
func (a *Analyzer) CurrentProfile() Profile { return a.last }

// OnsetFunction returns the raw onset-detection function (spec §4.F)
// from the most recently computed analysis: one normalized [0,1]
// strength value per hop, before peak-picking collapses it to onset
// times.
func (a *Analyzer) OnsetFunction() []float64 { return a.lastOnsetFn }

// BeatTrackingState returns the raw beat-tracking state (spec §4.F):
// the beat times the tempo estimator locked onto in the most recently
// computed analysis.
func (a *Analyzer) BeatTrackingState() []float64 { return a.last.BeatTimes }

// ProcessingStats reports streaming processing statistics (spec
// §4.F): whole hops processed via ProcessAudioChunk since construction
// or the last Reset, and the number of raw samples currently buffered.
func (a *Analyzer) ProcessingStats() (framesProcessed, bufferedSamples int) {
	return a.frameCount, len(a.buffer)
}

// Reset clears all accumulated streaming state.
func (a *Analyzer) Reset() {
	a.buffer = a.buffer[:0]
	a.frameCount = 0
	a.lastOnsetFn = nil
	a.last = Profile{}
}

func (a *Analyzer) analyze(audio []float32) (Profile, error) {
	if len(audio) < a.cfg.FrameSize {
		return Profile{}, domain.NewError(domain.StatusInsufficientData, "cadence: audio shorter than one frame")
	}

	onsetFn := a.onsetDetectionFunction(audio)
	a.lastOnsetFn = onsetFn
	hopSec := float64(a.cfg.HopSize) / float64(a.cfg.SampleRate)

	onsetFrames := a.pickPeaks(onsetFn)
	onsetTimes := make([]float64, len(onsetFrames))
	for i, f := range onsetFrames {
		onsetTimes[i] = float64(f) * hopSec
	}

	tempoBPM, tempoConfidence, beatTimes := a.estimateTempo(onsetTimes, onsetFn, hopSec)

	dominantPeriod, periodicityStrength, periods := a.analyzePeriodicity(audio)

	regularity, complexity, syncopation, groove := rhythmicDescriptors(onsetTimes)
	syllables := syllableProfile(onsetTimes)

	overall := domain.Clamp01(0.3*regularity + 0.2*groove + 0.3*periodicityStrength + tempoBonus(tempoConfidence))

	return Profile{
		DominantPeriodSec:   dominantPeriod,
		PeriodicityStrength: periodicityStrength,
		Periods:             periods,
		TempoBPM:            tempoBPM,
		TempoConfidence:     tempoConfidence,
		BeatTimes:           beatTimes,
		Regularity:          regularity,
		Complexity:          complexity,
		Syncopation:         syncopation,
		Groove:              groove,
		Syllables:           syllables,
		RhythmStrength:      periodicityStrength,
		OverallRhythmScore:  overall,
	}, nil
}

func tempoBonus(tempoConfidence float64) float64 {
	if tempoConfidence > 0.5 {
		return 0.2
	}
	return 0
}

// onsetDetectionFunction computes the per-frame onset strength, using
// spectral flux in the full path or an energy first-difference in the
// fast path, smoothed by a short moving average and normalized to
// [0,1].
func (a *Analyzer) onsetDetectionFunction(audio []float32) []float64 {
	numFrames := 1 + (len(audio)-a.cfg.FrameSize)/a.cfg.HopSize
	if numFrames < 1 {
		numFrames = 1
	}

	raw := make([]float64, numFrames)
	if a.useFastPath() {
		prevEnergy := 0.0
		for i := 0; i < numFrames; i++ {
			frame := frameAt(audio, i, a.cfg.FrameSize, a.cfg.HopSize)
			energy := 0.0
			for _, s := range frame {
				energy += float64(s) * float64(s)
			}
			diff := energy - prevEnergy
			if diff > 0 {
				raw[i] = diff
			}
			prevEnergy = energy
		}
	} else {
		var prevMag []float64
		for i := 0; i < numFrames; i++ {
			frame := frameAt(audio, i, a.cfg.FrameSize, a.cfg.HopSize)
			mag := a.plan.Magnitude(frame)
			flux := 0.0
			if prevMag != nil {
				for k, m := range mag {
					d := m - prevMag[k]
					if d > 0 {
						flux += d
					}
				}
			}
			raw[i] = flux
			prevMag = mag
		}
	}

	smoothed := movingAverage(raw, 3)
	return normalize01(smoothed)
}

func (a *Analyzer) useFastPath() bool {
	return a.cfg.Mode == ModeFast
}

func frameAt(audio []float32, frameIdx, frameSize, hopSize int) []float32 {
	start := frameIdx * hopSize
	end := start + frameSize
	if end > len(audio) {
		padded := make([]float32, frameSize)
		copy(padded, audio[start:])
		return padded
	}
	return audio[start:end]
}

func movingAverage(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		lo := i - window/2
		hi := i + window/2
		if lo < 0 {
			lo = 0
		}
		if hi >= len(xs) {
			hi = len(xs) - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += xs[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

func normalize01(xs []float64) []float64 {
	max := 0.0
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	out := make([]float64, len(xs))
	if max <= 0 {
		return out
	}
	for i, x := range xs {
		out[i] = x / max
	}
	return out
}

// pickPeaks applies the dynamic-threshold peak picker, falling back
// to the top three peaks above 1.2*median and then to the single
// global maximum.
func (a *Analyzer) pickPeaks(onsetFn []float64) []int {
	med := median(onsetFn)
	const alpha = 1.5
	threshold := med + alpha*med
	if a.useFastPath() {
		threshold /= 2
	}

	peaks := localMaximaAbove(onsetFn, threshold)
	if len(peaks) > 0 {
		return peaks
	}

	// Fallback 1: top three peaks above 1.2*median.
	peaks = localMaximaAbove(onsetFn, 1.2*med)
	if len(peaks) > 0 {
		if len(peaks) > 3 {
			sort.Slice(peaks, func(i, j int) bool { return onsetFn[peaks[i]] > onsetFn[peaks[j]] })
			peaks = peaks[:3]
			sort.Ints(peaks)
		}
		return peaks
	}

	// Fallback 2: single global maximum.
	if len(onsetFn) > 0 {
		best := 0
		for i, v := range onsetFn {
			if v > onsetFn[best] {
				best = i
			}
		}
		if onsetFn[best] > 0 {
			return []int{best}
		}
	}

	// No energy-based fallback follows: when the onset function has no
	// positive value, no peaks are returned.
	return []int{}
}

func localMaximaAbove(xs []float64, threshold float64) []int {
	var peaks []int
	for i := 1; i < len(xs)-1; i++ {
		if xs[i] > threshold && xs[i] >= xs[i-1] && xs[i] >= xs[i+1] {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// estimateTempo builds a 50ms-bin histogram of inter-onset intervals,
// picks the mode, and converts to BPM clamped to the configured band.
// Falls back to autocorrelation of the onset function, then to a
// window-duration heuristic, when there are too few onsets.
func (a *Analyzer) estimateTempo(onsetTimes []float64, onsetFn []float64, hopSec float64) (bpm, confidence float64, beatTimes []float64) {
	if len(onsetTimes) >= 2 {
		intervals := diffs(onsetTimes)
		mode, count := histogramMode(intervals, 0.05)
		if mode > 0 {
			bpmEstimate := 60 / mode
			bpmEstimate = clampTempo(bpmEstimate, a.cfg.MinTempo, a.cfg.MaxTempo)
			confidence = domain.Clamp01(float64(count) / float64(len(intervals)))
			return bpmEstimate, confidence, onsetTimes
		}
	}

	if len(onsetFn) > 4 {
		lag, strength := autocorrPeakLag(onsetFn, a.tempoLagBounds(hopSec))
		if lag > 0 {
			period := float64(lag) * hopSec
			bpmEstimate := clampTempo(60/period, a.cfg.MinTempo, a.cfg.MaxTempo)
			return bpmEstimate, domain.Clamp01(strength), onsetTimes
		}
	}

	// Last-resort heuristic: derive from the window's total duration.
	durationSec := float64(len(onsetFn)) * hopSec
	if durationSec <= 0 {
		return (a.cfg.MinTempo + a.cfg.MaxTempo) / 2, 0, onsetTimes
	}
	return clampTempo(60/durationSec, a.cfg.MinTempo, a.cfg.MaxTempo), 0.1, onsetTimes
}

func (a *Analyzer) tempoLagBounds(hopSec float64) (minLag, maxLag int) {
	minLag = int(60 / a.cfg.MaxTempo / hopSec)
	maxLag = int(60 / a.cfg.MinTempo / hopSec)
	if minLag < 1 {
		minLag = 1
	}
	return minLag, maxLag
}

func clampTempo(bpm, min, max float64) float64 {
	if bpm < min {
		return min
	}
	if bpm > max {
		return max
	}
	return bpm
}

func diffs(xs []float64) []float64 {
	out := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out[i-1] = xs[i] - xs[i-1]
	}
	return out
}

// histogramMode bins values into fixed-width bins and returns the
// mean of the values in the most populated bin plus its count.
func histogramMode(values []float64, binWidth float64) (mode float64, count int) {
	if len(values) == 0 {
		return 0, 0
	}
	counts := map[int]int{}
	sums := map[int]float64{}
	for _, v := range values {
		bin := int(v / binWidth)
		counts[bin]++
		sums[bin] += v
	}
	bestBin, bestCount := 0, 0
	for bin, c := range counts {
		if c > bestCount {
			bestBin, bestCount = bin, c
		}
	}
	return sums[bestBin] / float64(bestCount), bestCount
}

func autocorrPeakLag(xs []float64, minLag, maxLag int) (lag int, strength float64) {
	if maxLag >= len(xs) {
		maxLag = len(xs) - 1
	}
	if minLag >= maxLag {
		return 0, 0
	}
	zeroLag := dot(xs, xs)
	if zeroLag <= 0 {
		return 0, 0
	}
	bestLag, bestVal := -1, 0.0
	for l := minLag; l <= maxLag; l++ {
		v := dot(xs[:len(xs)-l], xs[l:])
		if v > bestVal {
			bestVal = v
			bestLag = l
		}
	}
	if bestLag < 0 {
		return 0, 0
	}
	return bestLag, bestVal / zeroLag
}

// analyzePeriodicity runs autocorrelation over the raw audio with the
// max-lag schedule, skip conditions, and stride-decimation schedule
// of spec §4.F.
func (a *Analyzer) analyzePeriodicity(audio []float32) (dominantPeriod, strength float64, periods []PeriodStrength) {
	clipDurationSec := float64(len(audio)) / float64(a.cfg.SampleRate)

	if len(audio) < 5*a.cfg.FrameSize {
		return 0, 0, nil
	}

	samples := make([]float64, len(audio))
	for i, s := range audio {
		samples[i] = float64(s)
	}
	if coefficientOfVariation(envelopeAbs(samples)) < 0.05 {
		return 0, 0, nil
	}

	maxLag := 384
	switch {
	case clipDurationSec < 0.75:
		maxLag = 384
	case clipDurationSec < 1.25:
		maxLag = 512
	default:
		maxLag = 1000
	}
	if maxLag >= len(samples) {
		maxLag = len(samples) - 1
	}

	stride := 1
	switch {
	case clipDurationSec < 1.0:
		stride = 4
	case clipDurationSec < 2.0:
		stride = 2
	}
	if a.cfg.Mode == ModeForcedFull {
		stride = 1
	}

	zeroLag := accumulateDot(samples, samples, stride)
	if zeroLag <= 0 {
		return 0, 0, nil
	}

	type pair struct {
		lag   int
		value float64
	}
	var candidates []pair
	for lag := 1; lag <= maxLag; lag++ {
		v := accumulateDot(samples[:len(samples)-lag], samples[lag:], stride)
		candidates = append(candidates, pair{lag, v / zeroLag})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].value > candidates[j].value })
	top := candidates
	if len(top) > 5 {
		top = top[:5]
	}

	periods = make([]PeriodStrength, len(top))
	for i, c := range top {
		periods[i] = PeriodStrength{
			PeriodSec: float64(c.lag) / float64(a.cfg.SampleRate),
			Strength:  domain.Clamp01(c.value),
		}
	}
	if len(periods) == 0 {
		return 0, 0, nil
	}
	return periods[0].PeriodSec, periods[0].Strength, periods
}

func envelopeAbs(samples []float64) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = math.Abs(s)
	}
	return out
}

func coefficientOfVariation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean, variance := stat.MeanVariance(xs, nil)
	if mean <= 0 {
		return 0
	}
	return math.Sqrt(variance) / mean
}

// accumulateDot computes a dot product with optional stride
// decimation. When the CPU supports AVX2 the accumulation is manually
// unrolled by 4 (a hint the Go compiler can autovectorize); otherwise
// a plain scalar loop runs. Both paths compute the same sum within
// the 1e-5 relative tolerance spec §4.F requires, differing only in
// summation order.
func accumulateDot(a, b []float64, stride int) float64 {
	if stride <= 1 {
		if cpuid.CPU.Supports(cpuid.AVX2) {
			return dotUnrolled(a, b)
		}
		return dot(a, b)
	}

	sum := 0.0
	for i := 0; i < len(a) && i < len(b); i += stride {
		sum += a[i] * b[i]
	}
	return sum
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func dotUnrolled(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s0, s1, s2, s3 float64
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	sum := s0 + s1 + s2 + s3
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// rhythmicDescriptors computes regularity/complexity/syncopation/
// groove from inter-onset intervals, per the closed forms pinned in
// spec §4.
func rhythmicDescriptors(onsetTimes []float64) (regularity, complexity, syncopation, groove float64) {
	if len(onsetTimes) < 2 {
		return 0, 0, 1, 0
	}
	intervals := diffs(onsetTimes)

	var variance float64
	if len(intervals) >= 2 {
		_, variance = stat.MeanVariance(intervals, nil)
	}

	regularity = 1 / (1 + variance)

	distinct := map[int]struct{}{}
	for _, v := range intervals {
		rounded := int(math.Round(v/0.01)) * 10
		distinct[rounded] = struct{}{}
	}
	complexity = float64(len(distinct)) / float64(len(intervals))

	syncopation = 1 - regularity
	groove = regularity * complexity
	return regularity, complexity, syncopation, groove
}

// syllableProfile derives syllable onsets/durations/rate from onset
// times, per the closed forms pinned in spec §4.
func syllableProfile(onsetTimes []float64) SyllableProfile {
	if len(onsetTimes) == 0 {
		return SyllableProfile{}
	}

	durations := make([]float64, len(onsetTimes))
	for i := 0; i < len(onsetTimes)-1; i++ {
		durations[i] = 0.8 * (onsetTimes[i+1] - onsetTimes[i])
	}
	durations[len(durations)-1] = 0.3

	totalDuration := 0.0
	if len(onsetTimes) > 1 {
		totalDuration = onsetTimes[len(onsetTimes)-1] - onsetTimes[0]
	}
	rate := 0.0
	if totalDuration > 0 {
		rate = float64(len(onsetTimes)) / totalDuration
	}

	var variance float64
	if len(durations) >= 2 {
		_, variance = stat.MeanVariance(durations, nil)
	}
	speechRhythm := 1 / (1 + 10*variance)

	return SyllableProfile{
		Onsets:       onsetTimes,
		Durations:    durations,
		Rate:         rate,
		SpeechRhythm: speechRhythm,
	}
}
