// Package session implements the session manager (spec §4.J,
// Component J) and the per-session aggregate it owns: the streaming
// pipeline, DTW comparator, realtime scorer, and optional enhanced
// coordinator wired together end to end.
//
// Grounded on hammamikhairi-otto's internal/storage/memory.go (the
// mutex-guarded id-to-owned-value map) and internal/engine/engine.go
// (the New(deps, log, opts...) constructor shape and one-operation-
// per-method public API). The step/timer state machine itself is
// cooking-specific and is not reused; the id generator is replaced
// with an atomic monotonic counter per spec §4.J, since a crypto/rand
// opaque string id cannot satisfy a monotonically increasing,
// never-reused contract.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/dsp/cadence"
	"github.com/brushline/wildcall/internal/dsp/harmonic"
	"github.com/brushline/wildcall/internal/dsp/pitch"
	"github.com/brushline/wildcall/internal/dtw"
	"github.com/brushline/wildcall/internal/enhanced"
	"github.com/brushline/wildcall/internal/logger"
	"github.com/brushline/wildcall/internal/pipeline"
	"github.com/brushline/wildcall/internal/reference"
	"github.com/brushline/wildcall/internal/scorer"
)

// Config controls the defaults new sessions are built with.
type Config struct {
	FrameSize int
	HopSize   int
}

func (c *Config) defaults() {
	if c.FrameSize <= 0 {
		c.FrameSize = 1024
	}
	if c.HopSize <= 0 {
		c.HopSize = c.FrameSize / 2
	}
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithFrameSize overrides the default frame/hop size new sessions are
// built with.
func WithFrameSize(frameSize, hopSize int) Option {
	return func(m *Manager) {
		m.cfg.FrameSize = frameSize
		m.cfg.HopSize = hopSize
	}
}

// session is one isolated analysis context (spec §3). Every field is
// owned exclusively by this session; nothing here is ever read from
// another session's goroutine.
type session struct {
	id            domain.SessionID
	sampleRate    int
	enhancedOn    bool
	pipeline      *pipeline.Pipeline
	coordinator   *enhanced.Coordinator
	enhancedCfg   enhanced.Config
	dtwComparator *dtw.Comparator
	scorer        *scorer.Scorer

	masterRefPath string
	masterRef     []domain.FeatureVector

	best  domain.SimilarityScore
	worst domain.SimilarityScore
	sum   domain.SimilarityScore
	ticks int
}

// Manager owns the set of live sessions (spec §4.J). The session map
// is guarded by a mutex held only during lookup/insert/delete; it is
// never held across DSP work (spec §5).
type Manager struct {
	cfg  Config
	log  *logger.Logger
	refs *reference.Cache

	mu       sync.Mutex
	sessions map[domain.SessionID]*session
	nextID   atomic.Uint32
}

// New creates a session Manager.
func New(log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		log:      log,
		refs:     reference.New(reference.WithLogger(log)),
		sessions: make(map[domain.SessionID]*session),
	}
	m.cfg.defaults()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession allocates a new session at the given sample rate.
// Session ids are allocated from a monotonically increasing counter
// and are never reused within the Manager's lifetime (spec §3, §4.J).
func (m *Manager) CreateSession(sampleRate int, enhancedAnalysis bool) (domain.SessionID, error) {
	if sampleRate <= 0 {
		return 0, domain.NewError(domain.StatusInvalidParams, "session: sample rate must be positive")
	}

	pl, err := pipeline.New(pipeline.Config{
		SampleRate:     sampleRate,
		FrameSize:      m.cfg.FrameSize,
		HopSize:        m.cfg.HopSize,
		EnablePitch:    enhancedAnalysis,
		EnableHarmonic: enhancedAnalysis,
		EnableCadence:  enhancedAnalysis,
	}, pipeline.WithLogger(m.log))
	if err != nil {
		return 0, err
	}

	var coordinator *enhanced.Coordinator
	var enhancedCfg enhanced.Config
	if enhancedAnalysis {
		// The coordinator re-analyzes the pipeline's latest raw frame
		// (GetEnhancedAnalysis), so its sub-analyzers must be sized to
		// the same frame/hop the pipeline itself uses; otherwise
		// harmonic.Analyze rejects every window with INVALID_PARAMS.
		enhancedCfg = enhanced.Config{
			SampleRate:     sampleRate,
			EnablePitch:    true,
			EnableHarmonic: true,
			EnableCadence:  true,
			Pitch:          pitch.Config{},
			Harmonic:       harmonic.Config{WindowSize: m.cfg.FrameSize},
			Cadence:        cadence.Config{FrameSize: m.cfg.FrameSize, HopSize: m.cfg.HopSize},
		}
		coordinator, err = enhanced.New(enhancedCfg)
		if err != nil {
			return 0, err
		}
	}

	sc, err := scorer.New(scorer.WithLogger(m.log))
	if err != nil {
		return 0, err
	}

	s := &session{
		id:            domain.SessionID(m.nextID.Add(1)),
		sampleRate:    sampleRate,
		enhancedOn:    enhancedAnalysis,
		pipeline:      pl,
		coordinator:   coordinator,
		enhancedCfg:   enhancedCfg,
		dtwComparator: dtw.New(),
		scorer:        sc,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.log.Debug("session %d created (sample rate %d, enhanced=%v)", s.id, sampleRate, enhancedAnalysis)
	return s.id, nil
}

func (m *Manager) lookup(id domain.SessionID) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// LoadMasterCall loads idOrPath as the session's master reference.
func (m *Manager) LoadMasterCall(id domain.SessionID, idOrPath string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}

	frames, err := m.refs.Load(idOrPath)
	if err != nil {
		return err
	}

	s.masterRefPath = idOrPath
	s.masterRef = frames
	return nil
}

// ProcessAudioChunk feeds samples through the session's streaming
// pipeline and recomputes its similarity score when a reference is
// loaded.
func (m *Manager) ProcessAudioChunk(id domain.SessionID, samples []float32) (domain.Status, error) {
	s, err := m.lookup(id)
	if err != nil {
		return domain.StatusSessionNotFound, err
	}

	status, err := s.pipeline.ProcessAudioChunk(samples)
	if err != nil {
		return status, err
	}

	if s.masterRef != nil {
		if _, err := m.tick(s); err != nil && domain.StatusOf(err) != domain.StatusInsufficientData {
			return domain.StatusProcessingError, err
		}
	}

	return domain.StatusOK, nil
}

// GetFeedback returns the session's user-facing realtime feedback
// summary (spec §4.K): current/trending/peak scores, a quality band,
// progress toward the reference's length, and a focus recommendation.
func (m *Manager) GetFeedback(id domain.SessionID) (scorer.Feedback, error) {
	s, err := m.lookup(id)
	if err != nil {
		return scorer.Feedback{}, err
	}
	if s.masterRef == nil {
		return scorer.Feedback{}, domain.NewError(domain.StatusInsufficientData, "session: no master reference loaded")
	}

	referenceDurationSec := float64(len(s.masterRef)*m.cfg.HopSize) / float64(s.sampleRate)
	return s.scorer.Feedback(s.pipeline.ProcessedDurationSec(), referenceDurationSec), nil
}

// GetSimilarityScore returns the session's most recent similarity
// score.
func (m *Manager) GetSimilarityScore(id domain.SessionID) (domain.SimilarityScore, error) {
	s, err := m.lookup(id)
	if err != nil {
		return domain.SimilarityScore{}, err
	}
	return m.tick(s)
}

// tick recomputes the session's similarity score from its current
// feature history against its loaded master reference.
func (m *Manager) tick(s *session) (domain.SimilarityScore, error) {
	if s.masterRef == nil {
		return domain.SimilarityScore{}, domain.NewError(domain.StatusInsufficientData, "session: no master reference loaded")
	}

	history := s.pipeline.FeatureHistory()
	if len(history) == 0 {
		return domain.SimilarityScore{}, domain.NewError(domain.StatusInsufficientData, "session: no frames processed yet")
	}

	tailLen := len(s.masterRef)
	if tailLen > len(history) {
		tailLen = len(history)
	}
	tail := history[len(history)-tailLen:]
	refTail := s.masterRef
	if len(refTail) > tailLen {
		refTail = refTail[len(refTail)-tailLen:]
	}

	dtwResult, err := s.dtwComparator.Compare(tail, refTail)
	if err != nil {
		return domain.SimilarityScore{}, err
	}

	volume := volumeScore(tail, refTail)
	timing := timingScore(len(history), len(s.masterRef))

	pitchScore := 0.0
	if res, ok := s.pipeline.LatestPitch(); ok {
		pitchScore = res.Confidence
	}

	score := s.scorer.Tick(dtwResult, volume, timing, pitchScore, s.pipeline.SamplesAppended())

	s.ticks++
	s.sum.Overall += score.Overall
	s.sum.MFCC += score.MFCC
	s.sum.Volume += score.Volume
	s.sum.Timing += score.Timing
	s.sum.Pitch += score.Pitch
	s.sum.Confidence += score.Confidence
	if s.ticks == 1 || score.Overall > s.best.Overall {
		s.best = score
	}
	if s.ticks == 1 || score.Overall < s.worst.Overall {
		s.worst = score
	}

	return score, nil
}

// GetEnhancedAnalysis re-runs the fused ensemble coordinator over the
// session's most recently processed frame and returns the resulting
// profile. It is INSUFFICIENT_DATA if enhanced analysis is disabled
// for the session or no frame has been processed yet.
//
// The coordinator re-analyzes the latest frame independently of the
// pipeline's own streaming pitch/harmonic/cadence analyzers (which
// feed the realtime scorer's sub-scores) rather than sharing their
// state, so that this query can apply the coordinator's own
// preset/adaptive-config path (spec §4.I) without perturbing the
// session's streaming score history.
func (m *Manager) GetEnhancedAnalysis(id domain.SessionID) (enhanced.Profile, error) {
	s, err := m.lookup(id)
	if err != nil {
		return enhanced.Profile{}, err
	}
	if s.coordinator == nil {
		return enhanced.Profile{}, domain.NewError(domain.StatusInsufficientData, "session: enhanced analysis not enabled")
	}

	frame := s.pipeline.LatestFrame()
	if frame == nil {
		return enhanced.Profile{}, domain.NewError(domain.StatusInsufficientData, "session: no frames processed yet")
	}

	profile, err := s.coordinator.Analyze(frame, frame, s.pipeline.ProcessedDurationSec())
	if err != nil {
		return enhanced.Profile{}, err
	}

	m.applyAdaptiveConfig(s, profile)

	return profile, nil
}

// applyAdaptiveConfig classifies the fused profile into Characteristics
// and, if the resulting mapping (spec §4.I) changes the coordinator's
// configuration, rebuilds the coordinator so subsequent calls pick up
// the adapted settings (e.g. formant tracking for a vocal call).
// Rebuild failures are logged and otherwise ignored: the session keeps
// analyzing under its previous, already-valid configuration.
func (m *Manager) applyAdaptiveConfig(s *session, profile enhanced.Profile) {
	characteristics := enhanced.Classify(profile)
	adapted := s.enhancedCfg
	enhanced.AdaptConfig(&adapted, characteristics)
	if adapted == s.enhancedCfg {
		return
	}

	coordinator, err := enhanced.New(adapted)
	if err != nil {
		m.log.Warn("session %d: adaptive config rebuild failed: %v", s.id, err)
		return
	}
	s.coordinator = coordinator
	s.enhancedCfg = adapted
	m.log.Debug("session %d: adaptive config applied (vocal=%v rhythmic=%v tonal=%v)",
		s.id, characteristics.Vocal, characteristics.Rhythmic, characteristics.Tonal)
}

// FinalizeSession runs one final full-history DTW pass and returns an
// aggregate summary (spec §4's end-of-stream alignment).
func (m *Manager) FinalizeSession(id domain.SessionID) (domain.FinalizeSummary, error) {
	s, err := m.lookup(id)
	if err != nil {
		return domain.FinalizeSummary{}, err
	}
	if s.masterRef == nil {
		return domain.FinalizeSummary{}, domain.NewError(domain.StatusInsufficientData, "session: no master reference loaded")
	}

	history := s.pipeline.FeatureHistory()
	if len(history) == 0 {
		return domain.FinalizeSummary{}, domain.NewError(domain.StatusInsufficientData, "session: no frames processed yet")
	}

	dtwResult, err := s.dtwComparator.Compare(history, s.masterRef)
	if err != nil {
		return domain.FinalizeSummary{}, err
	}

	volume := volumeScore(history, s.masterRef)
	timing := timingScore(len(history), len(s.masterRef))
	pitchScore := 0.0
	if res, ok := s.pipeline.LatestPitch(); ok {
		pitchScore = res.Confidence
	}

	final := s.scorer.Tick(dtwResult, volume, timing, pitchScore, s.pipeline.SamplesAppended())

	mean := s.sum
	if s.ticks > 0 {
		f := float64(s.ticks)
		mean.Overall /= f
		mean.MFCC /= f
		mean.Volume /= f
		mean.Timing /= f
		mean.Pitch /= f
		mean.Confidence /= f
	}

	return domain.FinalizeSummary{
		Final: final,
		Best:  s.best,
		Worst: s.worst,
		Mean:  mean,
		Ticks: s.ticks,
	}, nil
}

// ResetSession clears per-session analysis state but preserves the
// loaded master reference and configuration (spec §3).
func (m *Manager) ResetSession(id domain.SessionID) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.pipeline.Reset()
	s.scorer.Reset()
	s.best = domain.SimilarityScore{}
	s.worst = domain.SimilarityScore{}
	s.sum = domain.SimilarityScore{}
	s.ticks = 0
	return nil
}

// DestroySession removes a session and releases its resources,
// including its reference to any shared master-reference cache entry.
func (m *Manager) DestroySession(id domain.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.masterRefPath != "" {
		m.refs.Release(s.masterRefPath)
	}
	return nil
}

// IsSessionActive reports whether id refers to a live session. It
// never fails.
func (m *Manager) IsSessionActive(id domain.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// GetActiveSessions returns the ids of all currently live sessions.
func (m *Manager) GetActiveSessions() []domain.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]domain.SessionID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// FeatureCount returns the number of MFCC frames a session has
// processed so far. Useful for tests asserting session isolation.
func (m *Manager) FeatureCount(id domain.SessionID) (int, error) {
	s, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	return s.pipeline.FeatureCount(), nil
}

// volumeScore compares the mean frame-energy (MFCC coefficient 0) of
// two feature sequences, 1.0 when they match and decaying with the
// relative difference.
func volumeScore(a, b []domain.FeatureVector) float64 {
	meanA := meanCoeff0(a)
	meanB := meanCoeff0(b)
	denom := absF(meanB)
	if denom < 1e-6 {
		denom = 1e-6
	}
	return domain.Clamp01(1 - absF(meanA-meanB)/denom)
}

func meanCoeff0(vs []domain.FeatureVector) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		if len(v) > 0 {
			sum += float64(v[0])
		}
	}
	return sum / float64(len(vs))
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// timingScore compares processed-history length against the
// reference length, 1.0 when equal and decaying as the ratio departs
// from 1.
func timingScore(historyLen, refLen int) float64 {
	if refLen == 0 {
		return 0
	}
	ratio := float64(historyLen) / float64(refLen)
	return domain.Clamp01(1 - absF(1-ratio))
}
