package source

import (
	"context"
	"io"
	"time"

	"github.com/verte-zerg/serialplot/internal/generator"
)

const (
	// DefaultSimRate is the simulated sample rate in Hz.
	DefaultSimRate = 100
	simMaxChunk    = 16
	simName        = "simulator"
)

// Simulator emits a synthetic pulse waveform as <n> frames, split into random
// chunks, at Rate samples per second.
type Simulator struct {
	Rate  int
	Noise float64
	BPM   float64
	Seed  int64
}

// Name implements session.Source.
func (s *Simulator) Name() string {
	return simName
}

// Open implements session.Source. The stream runs until closed.
func (s *Simulator) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := s.Rate
	if rate <= 0 {
		rate = DefaultSimRate
	}
	gen := generator.New()
	if s.Seed != 0 {
		gen = generator.NewSeeded(s.Seed)
	}
	if s.BPM > 0 {
		gen.SetBPM(s.BPM)
	}
	pr, pw := io.Pipe()
	go s.run(gen, rate, pw)
	return pr, nil
}

func (s *Simulator) run(gen *generator.Generator, rate int, pw *io.PipeWriter) {
	period := time.Second / time.Duration(rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for range ticker.C {
		text := gen.Frames(1, period, s.Noise)
		for _, chunk := range gen.Split(text, simMaxChunk) {
			if _, err := pw.Write([]byte(chunk)); err != nil {
				// Reader closed.
				_ = pw.CloseWithError(err)
				return
			}
		}
	}
}
