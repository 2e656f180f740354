// Package tui provides the Bubble Tea live plot.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/serialplot/internal/chart"
	"github.com/verte-zerg/serialplot/internal/logx"
	"github.com/verte-zerg/serialplot/internal/session"
	"github.com/verte-zerg/serialplot/internal/window"
)

const (
	maxWindowLength = 100000
	maxRollPeriod   = 100
	// header, blank line, time axis, legend, footer, help
	chromeLines = 6
)

// Controller is the session surface driven by the UI.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	State() session.State
	Stats() session.Stats
	SourceName() string
	Window() *window.Window
}

// SamplesMsg carries the trimmed window from a scheduler tick.
type SamplesMsg struct {
	Samples []window.Sample
}

// StateMsg carries a session state transition.
type StateMsg struct {
	Event session.Event
}

type startDoneMsg struct{ err error }

type stopDoneMsg struct{ err error }

// Model implements the Bubble Tea plot UI.
type Model struct {
	ctx       context.Context
	ctl       Controller
	opts      chart.Options
	autoStart bool
	help      help.Model

	width  int
	height int

	samples []window.Sample
	state   session.State
	lastErr error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	stateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
)

// NewModel constructs the plot UI. With autoStart the session is started
// from Init.
func NewModel(ctx context.Context, ctl Controller, opts chart.Options, autoStart bool) *Model {
	if opts.RollPeriod < 1 {
		opts.RollPeriod = 1
	}
	return &Model{
		ctx:       ctx,
		ctl:       ctl,
		opts:      opts,
		autoStart: autoStart,
		help:      help.New(),
		state:     ctl.State(),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	if m.autoStart {
		return m.startCmd()
	}
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case SamplesMsg:
		m.samples = msg.Samples
		return m, nil
	case StateMsg:
		m.state = msg.Event.State
		if msg.Event.Err != nil {
			m.lastErr = msg.Event.Err
		}
		return m, nil
	case startDoneMsg:
		if errors.Is(msg.err, context.Canceled) {
			// Stopped while opening.
			logx.Ctx(m.ctx).Info("start cancelled", "source", m.ctl.SourceName())
		} else if msg.err != nil {
			m.lastErr = msg.err
			logx.Ctx(m.ctx).Warn("start failed", "source", m.ctl.SourceName(), "err", msg.err)
		}
		m.state = m.ctl.State()
		return m, nil
	case stopDoneMsg:
		if msg.err != nil {
			logx.Ctx(m.ctx).Warn("stop failed", "err", msg.err)
		}
		m.state = m.ctl.State()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Toggle):
		if m.state == session.StateIdle {
			m.lastErr = nil
			return m, m.startCmd()
		}
		return m, m.stopCmd()
	case key.Matches(msg, keys.Grow):
		m.resizeWindow(2)
	case key.Matches(msg, keys.Shrink):
		m.resizeWindow(0.5)
	case key.Matches(msg, keys.RollUp):
		m.opts.RollPeriod = min(m.opts.RollPeriod+1, maxRollPeriod)
	case key.Matches(msg, keys.RollDown):
		m.opts.RollPeriod = max(m.opts.RollPeriod-1, 1)
	case key.Matches(msg, keys.MaxUp):
		m.adjustRange(0, 1)
	case key.Matches(msg, keys.MaxDown):
		m.adjustRange(0, -1)
	case key.Matches(msg, keys.MinUp):
		m.adjustRange(1, 0)
	case key.Matches(msg, keys.MinDown):
		m.adjustRange(-1, 0)
	case key.Matches(msg, keys.AutoRange):
		m.toggleAutoRange()
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// startCmd and stopCmd run off the event loop: the session notifies the
// program synchronously while it changes state.
func (m *Model) startCmd() tea.Cmd {
	m.state = session.StateOpening
	return func() tea.Msg {
		return startDoneMsg{err: m.ctl.Start(m.ctx)}
	}
}

func (m *Model) stopCmd() tea.Cmd {
	m.state = session.StateStopping
	return func() tea.Msg {
		return stopDoneMsg{err: m.ctl.Stop()}
	}
}

func (m *Model) resizeWindow(factor float64) {
	win := m.ctl.Window()
	n := int(math.Round(float64(win.MaxLength()) * factor))
	win.SetMaxLength(max(window.MinMaxLength, min(n, maxWindowLength)))
}

// adjustRange nudges the fixed value axis by a tenth of its span. Moves that
// would make max <= min are ignored.
func (m *Model) adjustRange(minDir, maxDir float64) {
	if m.opts.AutoRange || m.opts.Max <= m.opts.Min {
		m.freezeRange()
	}
	step := math.Max((m.opts.Max-m.opts.Min)/10, 1)
	lo := m.opts.Min + minDir*step
	hi := m.opts.Max + maxDir*step
	if hi <= lo {
		return
	}
	m.opts.Min, m.opts.Max = lo, hi
}

func (m *Model) toggleAutoRange() {
	if m.opts.AutoRange {
		m.freezeRange()
		return
	}
	m.opts.AutoRange = true
}

// freezeRange switches to a fixed axis spanning the visible samples.
func (m *Model) freezeRange() {
	m.opts.AutoRange = false
	if len(m.samples) == 0 {
		if m.opts.Max <= m.opts.Min {
			m.opts.Min, m.opts.Max = 0, 1023
		}
		return
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range m.samples {
		lo = math.Min(lo, float64(s.Value))
		hi = math.Max(hi, float64(s.Value))
	}
	if hi <= lo {
		lo, hi = lo-1, hi+1
	}
	m.opts.Min, m.opts.Max = lo, hi
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderBody())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	b.WriteString("\n")
	b.WriteString(m.help.View(keys))
	return b.String()
}

func (m *Model) renderHeader() string {
	title := titleStyle.Render("serialplot")
	state := stateStyle.Render(fmt.Sprintf("%s · %s", m.ctl.SourceName(), m.state))
	return title + "  " + state
}

func (m *Model) renderBody() string {
	if len(m.samples) == 0 {
		switch m.state {
		case session.StateIdle:
			return stateStyle.Render("idle: press s to start")
		default:
			return stateStyle.Render("waiting for data...")
		}
	}
	opts := m.opts
	opts.Width = chart.PlotWidthFor(m.width)
	opts.Height = m.chartHeight()
	return strings.TrimSuffix(chart.Render(m.samples, opts), "\n")
}

func (m *Model) chartHeight() int {
	if m.opts.Height > 0 {
		return m.opts.Height
	}
	h := m.height - chromeLines
	if m.help.ShowAll {
		h -= len(keys.FullHelp()[0]) - 1
	}
	return max(h, 2)
}

func (m *Model) renderFooter() string {
	st := m.ctl.Stats()
	rng := "auto"
	if !m.opts.AutoRange && m.opts.Max > m.opts.Min {
		rng = fmt.Sprintf("%g..%g", m.opts.Min, m.opts.Max)
	}
	segments := []string{
		fmt.Sprintf("Frames %d", st.Frames),
		fmt.Sprintf("Malformed %d", st.Malformed),
		fmt.Sprintf("Window %d", m.ctl.Window().MaxLength()),
		fmt.Sprintf("Roll %d", m.opts.RollPeriod),
		fmt.Sprintf("Range %s", rng),
	}
	footer := strings.Join(segments, "  ")
	if m.lastErr != nil {
		footer += "  " + errorStyle.Render("Error: "+m.lastErr.Error())
	}
	if m.width > 0 && lipgloss.Width(footer) > m.width {
		footer = strings.Join(segments, "  ")
		if m.lastErr != nil {
			footer += "  Error: " + m.lastErr.Error()
		}
		footer = runewidth.Truncate(footer, m.width, "…")
	}
	return footerStyle.Render(footer)
}
