// Package generator builds synthetic pulse-sensor frames.
package generator

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const (
	pulseBaseline  = 400
	pulsePeak      = 620
	pulseTrough    = 330
	pulseNoise     = 6
	maxSensorValue = 1023
)

// DefaultBPM is the simulated heart rate.
const DefaultBPM = 72.0

const noiseSet = "<>x \r"

// Generator produces a pulse-like waveform encoded as <n> frames.
type Generator struct {
	rnd   *rand.Rand
	bpm   float64
	phase float64
}

// New returns a Generator seeded with the current time.
func New() *Generator {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded returns a deterministic Generator.
func NewSeeded(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		bpm: DefaultBPM,
	}
}

// SetBPM changes the simulated heart rate.
func (g *Generator) SetBPM(bpm float64) {
	if bpm > 0 {
		g.bpm = bpm
	}
}

// Next advances the waveform by dt and returns the sensor reading (0-1023).
func (g *Generator) Next(dt time.Duration) int {
	g.phase += dt.Seconds() * g.bpm / 60
	g.phase -= math.Floor(g.phase)
	v := pulseShape(g.phase) + g.rnd.NormFloat64()*pulseNoise
	if v < 0 {
		v = 0
	}
	if v > maxSensorValue {
		v = maxSensorValue
	}
	return int(math.Round(v))
}

// Frames renders count readings spaced dt apart as "<n>\r\n" lines. With
// noisePct > 0 some frames get stray bytes to exercise lenient decoding.
func (g *Generator) Frames(count int, dt time.Duration, noisePct float64) string {
	var b strings.Builder
	for i := 0; i < count; i++ {
		frame := "<" + strconv.Itoa(g.Next(dt)) + ">"
		b.WriteString(applyNoise(g.rnd, frame, noisePct))
		b.WriteString("\r\n")
	}
	return b.String()
}

// Split cuts text into random chunks of at most maxChunk bytes, the way a
// serial driver hands data over.
func (g *Generator) Split(text string, maxChunk int) []string {
	if maxChunk <= 1 {
		maxChunk = 1
	}
	chunks := make([]string, 0, len(text)/maxChunk+1)
	for len(text) > 0 {
		n := 1 + g.rnd.Intn(maxChunk)
		if n > len(text) {
			n = len(text)
		}
		chunks = append(chunks, text[:n])
		text = text[n:]
	}
	return chunks
}

// pulseShape maps a beat phase in [0,1) to a PPG-like reading: a sharp
// systolic peak followed by a dicrotic notch and slow decay.
func pulseShape(phase float64) float64 {
	systolic := gauss(phase, 0.15, 0.045) * (pulsePeak - pulseBaseline)
	dicrotic := gauss(phase, 0.38, 0.06) * (pulsePeak - pulseBaseline) * 0.35
	dip := gauss(phase, 0.08, 0.03) * (pulseTrough - pulseBaseline)
	return pulseBaseline + systolic + dicrotic + dip
}

func gauss(x, mu, sigma float64) float64 {
	d := (x - mu) / sigma
	return math.Exp(-0.5 * d * d)
}

func applyNoise(rnd *rand.Rand, frame string, noisePct float64) string {
	if noisePct <= 0 {
		return frame
	}
	if rnd.Float64() > noisePct {
		return frame
	}
	pos := 1 + rnd.Intn(len(frame)-1)
	noise := noiseSet[rnd.Intn(len(noiseSet))]
	return frame[:pos] + string(noise) + frame[pos:]
}
