package session

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/logger"
)

func newTestManager() *Manager {
	return New(logger.New(logger.LevelOff, io.Discard), WithFrameSize(256, 128))
}

func expectedFrameCount(n, frameSize, hopSize int) int {
	if n < frameSize {
		return 0
	}
	return (n-frameSize)/hopSize + 1
}

func sineSamples(n int, freq float64, sampleRate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func writeMasterCall(t *testing.T, numFrames, numCoeffs uint32) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "master.bin")

	buf := make([]byte, 8+int(numFrames)*int(numCoeffs)*4)
	binary.LittleEndian.PutUint32(buf[0:4], numFrames)
	binary.LittleEndian.PutUint32(buf[4:8], numCoeffs)

	offset := 8
	value := float32(0.1)
	for i := uint32(0); i < numFrames*numCoeffs; i++ {
		binary.LittleEndian.PutUint32(buf[offset:offset+4], math.Float32bits(value))
		offset += 4
	}

	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestCreateSessionAssignsMonotonicIDs(t *testing.T) {
	m := newTestManager()

	id1, err := m.CreateSession(16000, false)
	require.NoError(t, err)
	id2, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Greater(t, uint32(id2), uint32(id1))
	assert.True(t, m.IsSessionActive(id1))
	assert.True(t, m.IsSessionActive(id2))
}

func TestCreateSessionRejectsInvalidSampleRate(t *testing.T) {
	m := newTestManager()
	_, err := m.CreateSession(0, false)
	require.Error(t, err)
	assert.Equal(t, domain.StatusInvalidParams, domain.StatusOf(err))
}

func TestProcessAudioChunkOnUnknownSessionIsSessionNotFound(t *testing.T) {
	m := newTestManager()
	status, err := m.ProcessAudioChunk(domain.SessionID(999), []float32{0, 1, 2})
	require.Error(t, err)
	assert.Equal(t, domain.StatusSessionNotFound, status)
	assert.Equal(t, domain.StatusSessionNotFound, domain.StatusOf(err))
}

func TestProcessAudioChunkWithEmptyChunkIsOK(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	status, err := m.ProcessAudioChunk(id, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, status)
}

func TestLoadMasterCallAndGetSimilarityScore(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	path := writeMasterCall(t, 5, 13)
	require.NoError(t, m.LoadMasterCall(id, path))

	_, err = m.ProcessAudioChunk(id, sineSamples(16000, 440, 16000))
	require.NoError(t, err)

	score, err := m.GetSimilarityScore(id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score.Overall, 0.0)
	assert.LessOrEqual(t, score.Overall, 1.0)
}

func TestGetSimilarityScoreWithoutReferenceIsInsufficientData(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	_, err = m.GetSimilarityScore(id)
	require.Error(t, err)
	assert.Equal(t, domain.StatusInsufficientData, domain.StatusOf(err))
}

func TestGetFeedbackAfterProcessing(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	path := writeMasterCall(t, 5, 13)
	require.NoError(t, m.LoadMasterCall(id, path))

	_, err = m.ProcessAudioChunk(id, sineSamples(16000, 440, 16000))
	require.NoError(t, err)

	feedback, err := m.GetFeedback(id)
	require.NoError(t, err)
	assert.NotEmpty(t, feedback.Quality)
	assert.NotEmpty(t, feedback.Recommendation)
	assert.GreaterOrEqual(t, feedback.ProgressRatio, 0.0)
}

func TestGetFeedbackWithoutReferenceIsInsufficientData(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	_, err = m.GetFeedback(id)
	require.Error(t, err)
	assert.Equal(t, domain.StatusInsufficientData, domain.StatusOf(err))
}

func TestGetEnhancedAnalysisRequiresEnhancedSession(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	_, err = m.GetEnhancedAnalysis(id)
	require.Error(t, err)
	assert.Equal(t, domain.StatusInsufficientData, domain.StatusOf(err))
}

func TestGetEnhancedAnalysisAfterProcessing(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, true)
	require.NoError(t, err)

	_, err = m.ProcessAudioChunk(id, sineSamples(4096, 220, 16000))
	require.NoError(t, err)

	profile, err := m.GetEnhancedAnalysis(id)
	require.NoError(t, err)
	assert.True(t, profile.Valid)
}

// TestGetEnhancedAnalysisAppliesAdaptiveConfig is spec §4.I: a vocal
// profile (steady tone in the vocal frequency band) must set the
// coordinator's formant search to at least 4 formants on the next call.
func TestGetEnhancedAnalysisAppliesAdaptiveConfig(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, true)
	require.NoError(t, err)

	_, err = m.ProcessAudioChunk(id, sineSamples(4096, 220, 16000))
	require.NoError(t, err)

	_, err = m.GetEnhancedAnalysis(id)
	require.NoError(t, err)

	s, err := m.lookup(id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.enhancedCfg.Harmonic.MaxFormants, 4)
}

// TestSessionIsolation is spec §8 invariant 5: two sessions processing
// different audio never observe each other's state.
func TestSessionIsolation(t *testing.T) {
	m := newTestManager()
	idA, err := m.CreateSession(16000, false)
	require.NoError(t, err)
	idB, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	_, err = m.ProcessAudioChunk(idA, sineSamples(2048, 440, 16000))
	require.NoError(t, err)

	countA, err := m.FeatureCount(idA)
	require.NoError(t, err)
	countB, err := m.FeatureCount(idB)
	require.NoError(t, err)

	assert.Greater(t, countA, 0)
	assert.Equal(t, 0, countB)
}

// TestSessionIsolationProperty is a broader rapid-driven variant of
// invariant 5: chunk sizes fed to two independent sessions never
// produce cross-contaminated feature counts.
func TestSessionIsolationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := newTestManager()
		idA, err := m.CreateSession(16000, false)
		require.NoError(t, err)
		idB, err := m.CreateSession(16000, false)
		require.NoError(t, err)

		nA := rapid.IntRange(0, 4096).Draw(t, "nA")
		nB := rapid.IntRange(0, 4096).Draw(t, "nB")

		_, err = m.ProcessAudioChunk(idA, sineSamples(nA, 300, 16000))
		require.NoError(t, err)
		_, err = m.ProcessAudioChunk(idB, sineSamples(nB, 600, 16000))
		require.NoError(t, err)

		countA, err := m.FeatureCount(idA)
		require.NoError(t, err)
		countB, err := m.FeatureCount(idB)
		require.NoError(t, err)

		require.Equal(t, expectedFrameCount(nA, 256, 128), countA)
		require.Equal(t, expectedFrameCount(nB, 256, 128), countB)
	})
}

// TestResetPreservesMasterReference is spec §8 invariant 6.
func TestResetPreservesMasterReference(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	path := writeMasterCall(t, 5, 13)
	require.NoError(t, m.LoadMasterCall(id, path))

	_, err = m.ProcessAudioChunk(id, sineSamples(4096, 440, 16000))
	require.NoError(t, err)

	require.NoError(t, m.ResetSession(id))

	count, err := m.FeatureCount(id)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = m.GetSimilarityScore(id)
	assert.Equal(t, domain.StatusInsufficientData, domain.StatusOf(err))

	s, lookupErr := m.lookup(id)
	require.NoError(t, lookupErr)
	assert.Equal(t, path, s.masterRefPath)
	assert.NotNil(t, s.masterRef)
}

func TestDestroySessionFreesID(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	require.NoError(t, m.DestroySession(id))
	assert.False(t, m.IsSessionActive(id))

	_, err = m.ProcessAudioChunk(id, []float32{0})
	require.Error(t, err)
	assert.Equal(t, domain.StatusSessionNotFound, domain.StatusOf(err))
}

func TestDestroySessionTwiceIsSessionNotFound(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	require.NoError(t, m.DestroySession(id))
	err = m.DestroySession(id)
	require.Error(t, err)
	assert.Equal(t, domain.StatusSessionNotFound, domain.StatusOf(err))
}

// TestDestroySessionLeaksNoGoroutines guards against the session
// manager accidentally spawning background goroutines per session
// (spec §5 requires every core operation to be synchronous).
func TestDestroySessionLeaksNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newTestManager()
	id, err := m.CreateSession(16000, true)
	require.NoError(t, err)
	_, err = m.ProcessAudioChunk(id, sineSamples(2048, 440, 16000))
	require.NoError(t, err)
	require.NoError(t, m.DestroySession(id))
}

func TestFinalizeSessionReturnsAggregateSummary(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	path := writeMasterCall(t, 5, 13)
	require.NoError(t, m.LoadMasterCall(id, path))

	for i := 0; i < 3; i++ {
		_, err = m.ProcessAudioChunk(id, sineSamples(4096, 440, 16000))
		require.NoError(t, err)
	}

	summary, err := m.FinalizeSession(id)
	require.NoError(t, err)
	assert.Greater(t, summary.Ticks, 0)
	assert.GreaterOrEqual(t, summary.Final.Overall, 0.0)
	assert.LessOrEqual(t, summary.Final.Overall, 1.0)
}

func TestFinalizeSessionWithoutReferenceIsInsufficientData(t *testing.T) {
	m := newTestManager()
	id, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	_, err = m.FinalizeSession(id)
	require.Error(t, err)
	assert.Equal(t, domain.StatusInsufficientData, domain.StatusOf(err))
}

func TestGetActiveSessionsReflectsLifecycle(t *testing.T) {
	m := newTestManager()
	id1, err := m.CreateSession(16000, false)
	require.NoError(t, err)
	id2, err := m.CreateSession(16000, false)
	require.NoError(t, err)

	active := m.GetActiveSessions()
	assert.ElementsMatch(t, []domain.SessionID{id1, id2}, active)

	require.NoError(t, m.DestroySession(id1))
	active = m.GetActiveSessions()
	assert.ElementsMatch(t, []domain.SessionID{id2}, active)
}
