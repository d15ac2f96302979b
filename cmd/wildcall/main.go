// wildcall is a minimal demo CLI driving the wildcall analysis core
// end to end: it loads a master call and a raw 32-bit float PCM
// practice take, streams the take through a session in fixed chunks,
// and prints the resulting similarity score as JSON.
//
// Usage:
//
//	wildcall -master call.bin -take practice.pcm [-sample-rate 44100]
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/enhanced"
	"github.com/brushline/wildcall/internal/logger"
	"github.com/brushline/wildcall/internal/scorer"
	"github.com/brushline/wildcall/internal/session"
)

func main() {
	verbose := flag.Bool("verbose", false, "enable verbose/debug logging")
	quiet := flag.Bool("quiet", false, "disable all logging")
	masterPath := flag.String("master", "", "path to the master-call reference feature file")
	takePath := flag.String("take", "", "path to a raw 32-bit little-endian float PCM practice take")
	sampleRate := flag.Int("sample-rate", 44100, "sample rate of the practice take, in Hz")
	chunkFrames := flag.Int("chunk-frames", 2048, "samples per simulated audio_chunk call")
	enhanced := flag.Bool("enhanced", false, "enable pitch/harmonic/cadence analysis")
	flag.Parse()

	logLevel := logger.LevelNormal
	if *verbose {
		logLevel = logger.LevelVerbose
	}
	if *quiet {
		logLevel = logger.LevelOff
	}
	log := logger.New(logLevel, os.Stderr)

	if *masterPath == "" || *takePath == "" {
		fmt.Fprintln(os.Stderr, "usage: wildcall -master call.bin -take practice.pcm")
		os.Exit(2)
	}

	if err := run(log, *masterPath, *takePath, *sampleRate, *chunkFrames, *enhanced); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger, masterPath, takePath string, sampleRate, chunkFrames int, enhancedAnalysis bool) error {
	mgr := session.New(log)

	id, err := mgr.CreateSession(sampleRate, enhancedAnalysis)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer mgr.DestroySession(id)

	if err := mgr.LoadMasterCall(id, masterPath); err != nil {
		return fmt.Errorf("load master call: %w", err)
	}

	samples, err := readPCM32(takePath)
	if err != nil {
		return fmt.Errorf("read practice take: %w", err)
	}

	for offset := 0; offset < len(samples); offset += chunkFrames {
		end := offset + chunkFrames
		if end > len(samples) {
			end = len(samples)
		}
		if _, err := mgr.ProcessAudioChunk(id, samples[offset:end]); err != nil {
			return fmt.Errorf("process audio chunk: %w", err)
		}
	}

	feedback, err := mgr.GetFeedback(id)
	if err != nil {
		return fmt.Errorf("get feedback: %w", err)
	}

	var profile *enhanced.Profile
	if enhancedAnalysis {
		p, err := mgr.GetEnhancedAnalysis(id)
		if err != nil {
			return fmt.Errorf("get enhanced analysis: %w", err)
		}
		profile = &p
	}

	summary, err := mgr.FinalizeSession(id)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}

	log.Info("processed %d samples in %d chunk(s)", len(samples), (len(samples)+chunkFrames-1)/chunkFrames)
	log.Info("quality band: %s, recommendation: %s", feedback.Quality, feedback.Recommendation)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Summary  domain.FinalizeSummary `json:"summary"`
		Feedback scorer.Feedback        `json:"feedback"`
		Enhanced *enhanced.Profile      `json:"enhanced,omitempty"`
	}{summary, feedback, profile})
}

// readPCM32 reads a file of consecutive little-endian float32 samples.
func readPCM32(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("pcm file length %d is not a multiple of 4 bytes", len(raw))
	}

	samples := make([]float32, len(raw)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}
