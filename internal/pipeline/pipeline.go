// Package pipeline implements the per-session streaming frame machine
// (spec §4.H, Component H): buffers arbitrary-length audio chunks,
// advances hop-aligned frames, extracts MFCC, and fans out to the
// pitch/harmonic/cadence analyzers.
//
// Grounded on hammamikhairi-otto's internal/wakeword/detector.go: the
// Config-with-defaults() shape, the fixed chunk-accumulation pattern,
// and a sliding window advanced by a step smaller than the window are
// all carried over directly; the ONNX wakeword score call is replaced
// by the MFCC-extract-then-analyzer-fanout chain.
package pipeline

import (
	"io"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/dsp/cadence"
	"github.com/brushline/wildcall/internal/dsp/harmonic"
	"github.com/brushline/wildcall/internal/dsp/mfcc"
	"github.com/brushline/wildcall/internal/dsp/pitch"
	"github.com/brushline/wildcall/internal/logger"
	"github.com/brushline/wildcall/internal/ringbuffer"
)

// Config controls frame sizing and which enhanced analyzers run.
type Config struct {
	SampleRate int
	FrameSize  int // power of two, MFCC window size
	HopSize    int // strictly less than FrameSize

	EnablePitch    bool
	EnableHarmonic bool
	EnableCadence  bool

	MFCC     mfcc.Config
	Pitch    pitch.Config
	Harmonic harmonic.Config
	Cadence  cadence.Config

	log *logger.Logger
}

func (c *Config) defaults() {
	if c.FrameSize <= 0 {
		c.FrameSize = 1024
	}
	if c.HopSize <= 0 {
		c.HopSize = c.FrameSize / 2
	}
	if c.log == nil {
		c.log = logger.New(logger.LevelOff, io.Discard)
	}
}

// Option configures a Pipeline at construction.
type Option func(*Config)

// WithEnhanced enables the pitch, harmonic, and cadence analyzers.
func WithEnhanced(pitchOn, harmonicOn, cadenceOn bool) Option {
	return func(c *Config) {
		c.EnablePitch = pitchOn
		c.EnableHarmonic = harmonicOn
		c.EnableCadence = cadenceOn
	}
}

// WithLogger attaches a logger for frame-drain and reset tracing.
func WithLogger(log *logger.Logger) Option {
	return func(c *Config) { c.log = log }
}

// Pipeline owns one session's ring buffer, MFCC extractor, optional
// enhanced analyzers, and feature history. It shares no mutable state
// with any other session's Pipeline.
type Pipeline struct {
	cfg Config

	ring *ringbuffer.Buffer
	mfcc *mfcc.Extractor

	pitchAnalyzer    *pitch.Analyzer
	harmonicAnalyzer *harmonic.Analyzer
	cadenceAnalyzer  *cadence.Analyzer

	featureHistory []domain.FeatureVector
	latestFrame    []float32
	latestPitch    pitch.Result
	latestHarmonic harmonic.Profile
	hasPitch       bool
	hasHarmonic    bool

	samplesAppended uint64
}

// New creates a Pipeline for one session.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	cfg.defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SampleRate <= 0 {
		return nil, domain.NewError(domain.StatusInvalidParams, "pipeline: sample rate must be positive")
	}
	if cfg.FrameSize <= 0 || cfg.FrameSize&(cfg.FrameSize-1) != 0 {
		return nil, domain.NewError(domain.StatusInvalidParams, "pipeline: frame size must be a positive power of two")
	}
	if cfg.HopSize <= 0 || cfg.HopSize >= cfg.FrameSize {
		return nil, domain.NewError(domain.StatusInvalidParams, "pipeline: hop size must be positive and less than frame size")
	}

	cfg.MFCC.SampleRate = cfg.SampleRate
	cfg.MFCC.WindowSize = cfg.FrameSize
	extractor, err := mfcc.New(cfg.MFCC)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:  cfg,
		ring: ringbuffer.New(cfg.FrameSize * 8),
		mfcc: extractor,
	}

	if cfg.EnablePitch {
		cfg.Pitch.SampleRate = cfg.SampleRate
		a, err := pitch.New(cfg.Pitch)
		if err != nil {
			return nil, err
		}
		p.pitchAnalyzer = a
	}
	if cfg.EnableHarmonic {
		cfg.Harmonic.SampleRate = cfg.SampleRate
		cfg.Harmonic.WindowSize = cfg.FrameSize
		a, err := harmonic.New(cfg.Harmonic)
		if err != nil {
			return nil, err
		}
		p.harmonicAnalyzer = a
	}
	if cfg.EnableCadence {
		cfg.Cadence.SampleRate = cfg.SampleRate
		a, err := cadence.New(cfg.Cadence)
		if err != nil {
			return nil, err
		}
		p.cadenceAnalyzer = a
	}

	return p, nil
}

// ProcessAudioChunk appends samples to the ring buffer and drains
// every complete hop-aligned frame, extracting MFCC and updating the
// enabled enhanced analyzers. A sample influences at most
// FrameSize/HopSize consecutive frames (spec §4.H's bounded-spread
// contract) because frames are formed strictly in sample order and
// advanced by exactly HopSize each time, independent of how the
// caller chunked its input.
func (p *Pipeline) ProcessAudioChunk(samples []float32) (domain.Status, error) {
	offset := 0
	for offset < len(samples) {
		n := p.ring.Write(samples[offset:])
		if n == 0 {
			return domain.StatusProcessingError, domain.NewError(domain.StatusProcessingError, "pipeline: ring buffer could not accept data")
		}
		offset += n
		p.samplesAppended += uint64(n)

		if err := p.drain(); err != nil {
			return domain.StatusProcessingError, err
		}
	}
	return domain.StatusOK, nil
}

func (p *Pipeline) drain() error {
	frame := make([]float32, p.cfg.FrameSize)
	hopBuf := make([]float32, p.cfg.HopSize)

	for p.ring.AvailableRead() >= p.cfg.FrameSize {
		p.ring.Peek(frame, p.cfg.FrameSize)

		fv, err := p.mfcc.Extract(frame)
		if err != nil {
			return err
		}
		p.featureHistory = append(p.featureHistory, fv)
		p.latestFrame = append(p.latestFrame[:0:0], frame...)

		if p.pitchAnalyzer != nil {
			res, err := p.pitchAnalyzer.Analyze(frame)
			if err != nil {
				return err
			}
			p.latestPitch = res
			p.hasPitch = true
		}
		if p.harmonicAnalyzer != nil {
			profile, err := p.harmonicAnalyzer.Analyze(frame)
			if err != nil {
				return err
			}
			p.latestHarmonic = profile
			p.hasHarmonic = true
		}
		if p.cadenceAnalyzer != nil {
			p.ring.Peek(hopBuf, p.cfg.HopSize)
			if _, err := p.cadenceAnalyzer.ProcessAudioChunk(hopBuf); err != nil {
				return err
			}
		}

		p.ring.Advance(p.cfg.HopSize)
		p.cfg.log.Debug("pipeline: drained frame %d (%.2fs processed)", len(p.featureHistory), p.ProcessedDurationSec())
	}
	return nil
}

// FeatureHistory returns the session's accumulated MFCC feature
// history, oldest first. The returned slice must not be mutated by
// the caller.
func (p *Pipeline) FeatureHistory() []domain.FeatureVector { return p.featureHistory }

// SamplesAppended returns the total number of raw samples handed to
// ProcessAudioChunk since construction or the last Reset.
func (p *Pipeline) SamplesAppended() uint64 { return p.samplesAppended }

// FeatureCount returns the number of MFCC frames processed so far.
func (p *Pipeline) FeatureCount() int { return len(p.featureHistory) }

// ProcessedDurationSec returns feature history length x hop size /
// sample rate, the session's processed duration (spec §4.H).
func (p *Pipeline) ProcessedDurationSec() float64 {
	return float64(len(p.featureHistory)*p.cfg.HopSize) / float64(p.cfg.SampleRate)
}

// LatestFrame returns a copy of the most recently processed frame of
// raw samples, or nil if no frame has been processed yet.
func (p *Pipeline) LatestFrame() []float32 { return p.latestFrame }

// LatestPitch returns the most recent pitch result and whether one
// has been computed yet.
func (p *Pipeline) LatestPitch() (pitch.Result, bool) { return p.latestPitch, p.hasPitch }

// LatestHarmonic returns the most recent harmonic profile and whether
// one has been computed yet.
func (p *Pipeline) LatestHarmonic() (harmonic.Profile, bool) { return p.latestHarmonic, p.hasHarmonic }

// CadenceProfile returns the cadence analyzer's current profile, or
// the zero value if cadence analysis is disabled.
func (p *Pipeline) CadenceProfile() cadence.Profile {
	if p.cadenceAnalyzer == nil {
		return cadence.Profile{}
	}
	return p.cadenceAnalyzer.CurrentProfile()
}

// Reset clears buffered samples and feature history but keeps the
// ring buffer, FFT plans, and analyzer configuration allocated
// (spec §5: "reset does not free the ring buffer or FFT plans; it
// clears their contents").
func (p *Pipeline) Reset() {
	p.cfg.log.Debug("pipeline: reset, discarding %d buffered frames", len(p.featureHistory))
	p.ring.Clear()
	p.featureHistory = nil
	p.latestFrame = nil
	p.latestPitch = pitch.Result{}
	p.latestHarmonic = harmonic.Profile{}
	p.hasPitch = false
	p.hasHarmonic = false
	p.samplesAppended = 0
	if p.cadenceAnalyzer != nil {
		p.cadenceAnalyzer.Reset()
	}
}
