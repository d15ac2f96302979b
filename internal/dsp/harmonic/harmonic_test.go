package harmonic

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brushline/wildcall/internal/domain"
)

const (
	testSampleRate = 44100
	testWindow     = 2048
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := New(Config{SampleRate: testSampleRate, WindowSize: testWindow})
	require.NoError(t, err)
	return a
}

func sineWindow(n, sampleRate int, freq float64) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	return w
}

func harmonicPlusNoiseWindow(n, sampleRate int, freq float64, noiseAmp float64, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	w := make([]float32, n)
	for i := range w {
		t := float64(i) / float64(sampleRate)
		signal := math.Sin(2*math.Pi*freq*t) + 0.5*math.Sin(2*math.Pi*2*freq*t) + 0.25*math.Sin(2*math.Pi*3*freq*t)
		noise := noiseAmp * (rng.Float64()*2 - 1)
		w[i] = float32(signal + noise)
	}
	return w
}

func whiteNoiseWindow(n int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(rng.Float64()*2 - 1)
	}
	return w
}

// TestHNROrdering is spec §8 invariant 9: HNR(pure tone) >
// HNR(harmonic+noise) > HNR(white noise).
func TestHNROrdering(t *testing.T) {
	a := newTestAnalyzer(t)

	pure, err := a.Analyze(sineWindow(testWindow, testSampleRate, 220))
	require.NoError(t, err)

	noisy, err := a.Analyze(harmonicPlusNoiseWindow(testWindow, testSampleRate, 220, 0.6, 1))
	require.NoError(t, err)

	white, err := a.Analyze(whiteNoiseWindow(testWindow, 2))
	require.NoError(t, err)

	assert.Greater(t, pure.HNRDb, noisy.HNRDb)
	assert.Greater(t, noisy.HNRDb, white.HNRDb)
}

func TestAnalyzeRejectsWrongWindowLength(t *testing.T) {
	a := newTestAnalyzer(t)
	_, err := a.Analyze(make([]float32, 100))
	require.Error(t, err)
	assert.Equal(t, domain.StatusInvalidParams, domain.StatusOf(err))
}

func TestTonalQualitiesAreBounded(t *testing.T) {
	a := newTestAnalyzer(t)
	p, err := a.Analyze(harmonicPlusNoiseWindow(testWindow, testSampleRate, 300, 0.2, 3))
	require.NoError(t, err)

	for name, v := range map[string]float64{
		"rasp":       p.Rasp,
		"whine":      p.Whine,
		"resonance":  p.Resonance,
		"brightness": p.Brightness,
		"roughness":  p.Roughness,
		"confidence": p.Confidence,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
}

func TestFormantsSortedByFrequency(t *testing.T) {
	a := newTestAnalyzer(t)
	p, err := a.Analyze(harmonicPlusNoiseWindow(testWindow, testSampleRate, 300, 0.1, 4))
	require.NoError(t, err)

	for i := 1; i < len(p.Formants); i++ {
		assert.Less(t, p.Formants[i-1].FrequencyHz, p.Formants[i].FrequencyHz)
	}
}
