package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/dtw"
)

func TestNewRejectsWeightsNotSummingToOne(t *testing.T) {
	_, err := New(WithWeights(0.5, 0.5, 0.5, 0.5))
	require.Error(t, err)
	assert.Equal(t, domain.StatusInvalidParams, domain.StatusOf(err))
}

func TestTickProducesClampedScore(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	score := s.Tick(dtw.Result{Similarity: 0.95}, 0.8, 0.7, 0.6, 1000)
	assert.GreaterOrEqual(t, score.Overall, 0.0)
	assert.LessOrEqual(t, score.Overall, 1.0)
	assert.Equal(t, uint64(1000), score.SamplesAnalyzed)
}

func TestConfidenceGrowsWithSampleCountBeforeSaturation(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	early := s.Tick(dtw.Result{Similarity: 0.5}, 0.5, 0.5, 0.5, 100)
	later := s.Tick(dtw.Result{Similarity: 0.5}, 0.5, 0.5, 0.5, 50000)
	assert.Greater(t, later.Confidence, early.Confidence)
}

func TestIsReliableAndIsMatchThresholds(t *testing.T) {
	s, err := New(WithThresholds(0.5, 0.9))
	require.NoError(t, err)

	score := s.Tick(dtw.Result{Similarity: 0.95}, 0.95, 0.95, 0.95, 1_000_000)
	assert.True(t, score.IsReliable)
	assert.True(t, score.IsMatch)
}

func TestHistoryBoundedAndNewestFirst(t *testing.T) {
	s, err := New(WithHistoryDepth(3))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s.Tick(dtw.Result{Similarity: float64(i) / 5}, 0.5, 0.5, 0.5, uint64(i))
	}

	hist := s.History()
	require.Len(t, hist, 3)
	assert.Equal(t, uint64(4), hist[0].SamplesAnalyzed)
	assert.Equal(t, uint64(2), hist[2].SamplesAnalyzed)
}

func TestResetClearsHistoryAndPeak(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	s.Tick(dtw.Result{Similarity: 0.9}, 0.9, 0.9, 0.9, 1000)
	s.Reset()
	assert.Empty(t, s.History())
	assert.Equal(t, domain.SimilarityScore{}, s.peak)
}

func TestFeedbackProgressRatioClamped(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	s.Tick(dtw.Result{Similarity: 0.8}, 0.8, 0.8, 0.8, 1000)

	fb := s.Feedback(10, 5)
	assert.Equal(t, 1.0, fb.ProgressRatio)

	fb = s.Feedback(2, 5)
	assert.InDelta(t, 0.4, fb.ProgressRatio, 1e-9)
}

// TestScoreRangeInvariant is part of spec §8 invariant 4: overall,
// mfcc, volume, timing, pitch, confidence are always in [0,1].
func TestScoreRangeInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s, err := New()
		require.NoError(t, err)

		sim := rapid.Float64Range(-5, 5).Draw(t, "sim")
		vol := rapid.Float64Range(-5, 5).Draw(t, "vol")
		tim := rapid.Float64Range(-5, 5).Draw(t, "tim")
		pit := rapid.Float64Range(-5, 5).Draw(t, "pit")
		samples := rapid.Uint64Range(0, 1_000_000).Draw(t, "samples")

		score := s.Tick(dtw.Result{Similarity: sim}, vol, tim, pit, samples)
		for name, v := range map[string]float64{
			"overall": score.Overall, "mfcc": score.MFCC, "volume": score.Volume,
			"timing": score.Timing, "pitch": score.Pitch, "confidence": score.Confidence,
		} {
			require.GreaterOrEqual(t, v, 0.0, name)
			require.LessOrEqual(t, v, 1.0, name)
		}
	})
}
