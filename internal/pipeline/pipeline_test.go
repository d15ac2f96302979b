package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/brushline/wildcall/internal/domain"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(Config{SampleRate: 44100, FrameSize: 256, HopSize: 128})
	require.NoError(t, err)
	return p
}

func sineSamples(n, sampleRate int, freq float64) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	return s
}

func TestProcessAudioChunkBuildsFeatureHistory(t *testing.T) {
	p := newTestPipeline(t)
	status, err := p.ProcessAudioChunk(sineSamples(2048, 44100, 440))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, status)
	assert.Greater(t, p.FeatureCount(), 0)
}

// TestFrameBoundaryInvariance is spec §8 invariant 2: splitting one
// input into arbitrary sub-chunks must produce the same feature
// history as processing it whole.
func TestFrameBoundaryInvariance(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(256, 4096).Draw(t, "total")
		samples := make([]float32, total)
		for i := range samples {
			samples[i] = float32(rapid.Float64Range(-1, 1).Draw(t, "sample"))
		}

		whole := newTestPipelineForRapid(t)
		_, err := whole.ProcessAudioChunk(samples)
		require.NoError(t, err)

		chunked := newTestPipelineForRapid(t)
		offset := 0
		for offset < total {
			remaining := total - offset
			size := rapid.IntRange(1, remaining).Draw(t, "chunkSize")
			_, err := chunked.ProcessAudioChunk(samples[offset : offset+size])
			require.NoError(t, err)
			offset += size
		}

		require.Equal(t, len(whole.FeatureHistory()), len(chunked.FeatureHistory()))
		for i := range whole.FeatureHistory() {
			for j := range whole.FeatureHistory()[i] {
				require.InDelta(t, whole.FeatureHistory()[i][j], chunked.FeatureHistory()[i][j], 1e-4)
			}
		}
	})
}

func newTestPipelineForRapid(t *rapid.T) *Pipeline {
	p, err := New(Config{SampleRate: 44100, FrameSize: 256, HopSize: 128})
	require.NoError(t, err)
	return p
}

func TestResetClearsFeatureHistoryButKeepsBuffers(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.ProcessAudioChunk(sineSamples(2048, 44100, 440))
	require.NoError(t, err)
	require.Greater(t, p.FeatureCount(), 0)

	p.Reset()
	assert.Equal(t, 0, p.FeatureCount())
	assert.NotNil(t, p.ring)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{SampleRate: 44100, FrameSize: 100, HopSize: 50})
	require.Error(t, err)
	assert.Equal(t, domain.StatusInvalidParams, domain.StatusOf(err))
}
