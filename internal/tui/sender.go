package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/serialplot/internal/session"
	"github.com/verte-zerg/serialplot/internal/window"
)

// Sender forwards session output into a running program. Messages sent before
// Attach are dropped.
type Sender struct {
	mu      sync.RWMutex
	program *tea.Program
}

// Attach sets the program that receives messages.
func (s *Sender) Attach(p *tea.Program) {
	s.mu.Lock()
	s.program = p
	s.mu.Unlock()
}

// Update implements window.Renderer.
func (s *Sender) Update(samples []window.Sample) {
	s.send(SamplesMsg{Samples: samples})
}

// Observe is a session.Observer.
func (s *Sender) Observe(ev session.Event) {
	s.send(StateMsg{Event: ev})
}

func (s *Sender) send(msg tea.Msg) {
	s.mu.RLock()
	p := s.program
	s.mu.RUnlock()
	if p != nil {
		p.Send(msg)
	}
}
