package window

import (
	"context"
	"math"
	"slices"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu    sync.Mutex
	calls [][]Sample
}

func (r *recorder) Update(samples []Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, samples)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func values(samples []Sample) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func TestAppendStampsElapsedTime(t *testing.T) {
	clock := newFakeClock()
	w := New(10, WithClock(clock.Now))
	clock.Advance(1500 * time.Millisecond)
	s := w.Append(512)
	if math.Abs(s.Elapsed-1.5) > 1e-9 || s.Value != 512 {
		t.Fatalf("unexpected sample %+v", s)
	}
	if w.Len() != 1 {
		t.Fatalf("expected 1 sample, got %d", w.Len())
	}
}

func TestTickOnEmptyWindowSkipsRenderer(t *testing.T) {
	w := New(10)
	r := &recorder{}
	if w.Tick(r) {
		t.Fatalf("expected empty tick to report false")
	}
	if r.count() != 0 {
		t.Fatalf("expected renderer not to be called, got %d calls", r.count())
	}
}

func TestTickKeepsMostRecentSamples(t *testing.T) {
	w := New(2)
	for _, v := range []int{10, 20, 30} {
		w.Append(v)
	}
	r := &recorder{}
	if !w.Tick(r) {
		t.Fatalf("expected tick to render")
	}
	if r.count() != 1 {
		t.Fatalf("expected 1 render, got %d", r.count())
	}
	if got := values(r.calls[0]); !slices.Equal(got, []int{20, 30}) {
		t.Fatalf("unexpected rendered samples %v", got)
	}
	if got := values(w.Snapshot()); !slices.Equal(got, []int{20, 30}) {
		t.Fatalf("unexpected window %v", got)
	}
}

func TestTickIsIdempotent(t *testing.T) {
	w := New(3)
	for v := 0; v < 7; v++ {
		w.Append(v)
	}
	w.Tick(nil)
	first := w.Snapshot()
	w.Tick(nil)
	if !slices.Equal(first, w.Snapshot()) {
		t.Fatalf("second tick changed the window: %v -> %v", first, w.Snapshot())
	}
	if got := values(first); !slices.Equal(got, []int{4, 5, 6}) {
		t.Fatalf("unexpected window %v", got)
	}
}

func TestWindowBoundAfterManyAppends(t *testing.T) {
	const n = 50
	w := New(n)
	for v := 0; v < 1000; v++ {
		w.Append(v)
		if v%97 == 0 {
			w.Tick(nil)
			if w.Len() > n {
				t.Fatalf("window grew to %d after tick", w.Len())
			}
		}
	}
	w.Tick(nil)
	got := values(w.Snapshot())
	if len(got) != n {
		t.Fatalf("expected %d samples, got %d", n, len(got))
	}
	for i, v := range got {
		if v != 950+i {
			t.Fatalf("sample %d: expected %d, got %d", i, 950+i, v)
		}
	}
}

func TestSetMaxLengthAppliesOnNextTick(t *testing.T) {
	w := New(10)
	for v := 1; v <= 5; v++ {
		w.Append(v)
	}
	w.SetMaxLength(2)
	if w.Len() != 5 {
		t.Fatalf("expected trim to wait for tick, got %d samples", w.Len())
	}
	w.Tick(nil)
	if got := values(w.Snapshot()); !slices.Equal(got, []int{4, 5}) {
		t.Fatalf("unexpected window %v", got)
	}

	w.SetMaxLength(0)
	if w.MaxLength() != MinMaxLength {
		t.Fatalf("expected clamp to %d, got %d", MinMaxLength, w.MaxLength())
	}
}

func TestRendererGetsCopy(t *testing.T) {
	w := New(5)
	w.Append(1)
	var got []Sample
	w.Tick(RendererFunc(func(s []Sample) { got = s }))
	if len(got) != 1 {
		t.Fatalf("expected 1 rendered sample, got %d", len(got))
	}
	got[0].Value = 99
	if v := w.Snapshot()[0].Value; v != 1 {
		t.Fatalf("renderer mutated the window: %d", v)
	}
}

func TestResetRestartsClock(t *testing.T) {
	clock := newFakeClock()
	w := New(5, WithClock(clock.Now))
	w.Append(1)
	clock.Advance(time.Minute)
	w.Reset(clock.Now())
	if w.Len() != 0 {
		t.Fatalf("expected empty window, got %d", w.Len())
	}
	if s := w.Append(2); s.Elapsed != 0 {
		t.Fatalf("expected elapsed 0, got %f", s.Elapsed)
	}
}

func TestSchedulerRendersUntilStopped(t *testing.T) {
	w := New(5)
	w.Append(1)
	r := &recorder{}
	s := NewScheduler(w, r, time.Millisecond)
	s.Start(context.Background())
	s.Start(context.Background())
	if !s.Running() {
		t.Fatalf("expected scheduler to run")
	}

	deadline := time.Now().Add(time.Second)
	for r.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 renders, got %d", r.count())
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatalf("expected scheduler to stop")
	}

	after := r.count()
	time.Sleep(10 * time.Millisecond)
	if r.count() != after {
		t.Fatalf("renders continued after stop: %d -> %d", after, r.count())
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(New(1), nil, 0)
	if s.Period() != DefaultTickPeriod {
		t.Fatalf("expected default period, got %s", s.Period())
	}
	s.Stop()
	if s.Running() {
		t.Fatalf("expected scheduler to be stopped")
	}
}
