// Package window holds the bounded sample window and its render scheduler.
package window

import (
	"sync"
	"time"
)

const (
	// DefaultMaxLength is the number of samples kept for rendering.
	DefaultMaxLength = 300
	// MinMaxLength is the smallest accepted window size.
	MinMaxLength = 1
)

// Sample is one decoded value stamped with the seconds elapsed since the
// session started.
type Sample struct {
	Elapsed float64
	Value   int
}

// Renderer receives the trimmed window on each tick. The slice is a copy owned
// by the renderer.
type Renderer interface {
	Update(samples []Sample)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(samples []Sample)

// Update calls f(samples).
func (f RendererFunc) Update(samples []Sample) {
	f(samples)
}

// Window is an append-only sample sequence trimmed to the most recent
// MaxLength samples on each tick. Safe for concurrent use.
type Window struct {
	mu        sync.Mutex
	samples   []Sample
	maxLength int
	start     time.Time
	now       func() time.Time
}

// Option configures a Window.
type Option func(*Window)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Window) {
		w.now = now
	}
}

// New returns an empty window keeping at most maxLength samples.
func New(maxLength int, opts ...Option) *Window {
	w := &Window{
		maxLength: clampLength(maxLength),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.start = w.now()
	return w
}

// Reset clears all samples and restarts the elapsed clock at start.
func (w *Window) Reset(start time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = nil
	w.start = start
}

// Start returns the time elapsed values are measured from.
func (w *Window) Start() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.start
}

// Append stamps value with the elapsed time and appends it. Growth is
// unbounded until the next Tick.
func (w *Window) Append(value int) Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Sample{
		Elapsed: w.now().Sub(w.start).Seconds(),
		Value:   value,
	}
	w.samples = append(w.samples, s)
	return s
}

// SetMaxLength changes the window size. The next Tick honors it.
func (w *Window) SetMaxLength(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maxLength = clampLength(n)
}

// MaxLength returns the configured window size.
func (w *Window) MaxLength() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxLength
}

// Len returns the number of buffered samples, including those not yet trimmed.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// Snapshot returns a copy of the buffered samples.
func (w *Window) Snapshot() []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Tick trims the window to the most recent MaxLength samples and hands a copy
// to r. An empty window is left alone and r is not called.
func (w *Window) Tick(r Renderer) bool {
	w.mu.Lock()
	if len(w.samples) == 0 {
		w.mu.Unlock()
		return false
	}
	if drop := len(w.samples) - w.maxLength; drop > 0 {
		// Copy down so the backing array does not pin evicted samples.
		kept := copy(w.samples, w.samples[drop:])
		w.samples = w.samples[:kept]
	}
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	w.mu.Unlock()

	if r != nil {
		r.Update(out)
	}
	return true
}

func clampLength(n int) int {
	if n < MinMaxLength {
		return MinMaxLength
	}
	return n
}
