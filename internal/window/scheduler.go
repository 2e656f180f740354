package window

import (
	"context"
	"sync"
	"time"
)

// DefaultTickPeriod is the render cadence.
const DefaultTickPeriod = 10 * time.Millisecond

// Scheduler ticks a Window into a Renderer at a fixed period, independent of
// how fast samples arrive.
type Scheduler struct {
	win      *Window
	renderer Renderer
	period   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler returns a stopped scheduler. period <= 0 selects DefaultTickPeriod.
func NewScheduler(win *Window, r Renderer, period time.Duration) *Scheduler {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	return &Scheduler{
		win:      win,
		renderer: r,
		period:   period,
	}
}

// Period returns the tick period.
func (s *Scheduler) Period() time.Duration {
	return s.period
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Start launches the tick loop. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.loop(ctx, done)
}

// Stop ends the tick loop and waits for it. Safe to call when stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.win.Tick(s.renderer)
		}
	}
}
