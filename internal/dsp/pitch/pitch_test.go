package pitch

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brushline/wildcall/internal/domain"
)

func sineWindow(n, sampleRate int, freq float64) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	return w
}

// TestPitchOnPureTone is spec §8 invariant 8: a 440 Hz sine at >= 0.3s
// duration must be recovered within 5% with confidence >= 0.5.
func TestPitchOnPureTone(t *testing.T) {
	const sampleRate = 44100
	const freq = 440.0
	n := int(0.3 * sampleRate)

	a, err := New(Config{SampleRate: sampleRate})
	require.NoError(t, err)

	res, err := a.Analyze(sineWindow(n, sampleRate, freq))
	require.NoError(t, err)

	assert.InEpsilon(t, freq, res.FrequencyHz, 0.05)
	assert.GreaterOrEqual(t, res.Confidence, 0.5)
}

// TestPitchOnNoiseHasLowConfidence documents the noise-confidence edge
// case from spec §4.D: pure noise reports confidence < 0.5.
func TestPitchOnNoiseHasLowConfidence(t *testing.T) {
	const sampleRate = 44100
	n := int(0.3 * sampleRate)

	rng := rand.New(rand.NewSource(1))
	window := make([]float32, n)
	for i := range window {
		window[i] = float32(rng.Float64()*2 - 1)
	}

	a, err := New(Config{SampleRate: sampleRate})
	require.NoError(t, err)
	res, err := a.Analyze(window)
	require.NoError(t, err)
	assert.Less(t, res.Confidence, 0.5)
}

func TestPitchOnSilenceReportsZeroConfidence(t *testing.T) {
	a, err := New(Config{SampleRate: 44100})
	require.NoError(t, err)
	res, err := a.Analyze(make([]float32, 4096))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, 0.0, res.FrequencyHz)
}

func TestAnalyzeRejectsTooShortWindow(t *testing.T) {
	a, err := New(Config{SampleRate: 44100})
	require.NoError(t, err)
	_, err = a.Analyze([]float32{1})
	require.Error(t, err)
	assert.Equal(t, domain.StatusInsufficientData, domain.StatusOf(err))
}

func TestNewRejectsInvalidBand(t *testing.T) {
	_, err := New(Config{SampleRate: 44100, MinFreq: 1000, MaxFreq: 500})
	require.Error(t, err)
	assert.Equal(t, domain.StatusInvalidParams, domain.StatusOf(err))
}
