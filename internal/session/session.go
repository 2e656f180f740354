// Package session drives one device connection: it opens a source, decodes
// <int> frames into the sample window and ticks the window into a renderer.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	"github.com/verte-zerg/serialplot/internal/frame"
	"github.com/verte-zerg/serialplot/internal/logx"
	"github.com/verte-zerg/serialplot/internal/window"
)

const (
	defaultReadBufferSize = 256
	defaultChunkQueue     = 64
	defaultCloseGrace     = 250 * time.Millisecond
)

// Source acquires the upstream byte stream. Closing the returned reader must
// unblock a pending Read.
type Source interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// State is a session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateStreaming
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Event describes a state transition. Err carries the cause, if any.
type Event struct {
	SessionID string
	State     State
	Err       error
}

// Observer is notified of every transition. It is called from the goroutine
// performing the transition and must not block.
type Observer func(Event)

// Stats counts activity of the current (or last) session.
type Stats struct {
	SessionID string
	Started   time.Time
	Frames    uint64
	Samples   uint64
	Malformed uint64
	Overflows uint64
}

// Options configures a Session. Zero values select defaults.
type Options struct {
	Policy     frame.ParsePolicy
	MaxPending int
	TickPeriod time.Duration
	Renderer   window.Renderer
	Observer   Observer
	// SampleHook receives every appended sample from the pump goroutine.
	SampleHook     func(window.Sample)
	ReadBufferSize int
	CloseGrace     time.Duration
	// MalformedLogEvery throttles malformed-frame warnings.
	MalformedLogEvery time.Duration
	Now               func() time.Time
}

// Session owns the lifecycle Idle → Opening → Streaming → Stopping → Idle.
type Session struct {
	src  Source
	win  *window.Window
	opts Options

	mu      sync.Mutex
	state   State
	closed  bool
	opening *opening
	current *run

	stats struct {
		sync.Mutex
		id      string
		started time.Time
	}
	frames    atomic.Uint64
	samples   atomic.Uint64
	malformed atomic.Uint64
	overflows atomic.Uint64

	warnLimiter *rate.Limiter
}

// opening tracks a Start that is acquiring its source.
type opening struct {
	cancel  context.CancelFunc
	done    chan struct{}
	aborted bool
}

type run struct {
	id     string
	log    pslog.Logger
	rc     io.ReadCloser
	cancel context.CancelFunc
	sched  *window.Scheduler
	done   chan struct{}

	stopRequested atomic.Bool
	closeOnce     sync.Once
	closeErr      error
}

// New returns an idle session reading from src into win.
func New(src Source, win *window.Window, opts Options) *Session {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaultReadBufferSize
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = defaultCloseGrace
	}
	if opts.MalformedLogEvery <= 0 {
		opts.MalformedLogEvery = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		src:         src,
		win:         win,
		opts:        opts,
		warnLimiter: rate.NewLimiter(rate.Every(opts.MalformedLogEvery), 3),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Window returns the sample window fed by the session.
func (s *Session) Window() *window.Window {
	return s.win
}

// SourceName returns the configured source name.
func (s *Session) SourceName() string {
	return s.src.Name()
}

// Stats returns counters for the current or last session.
func (s *Session) Stats() Stats {
	s.stats.Lock()
	id, started := s.stats.id, s.stats.started
	s.stats.Unlock()
	return Stats{
		SessionID: id,
		Started:   started,
		Frames:    s.frames.Load(),
		Samples:   s.samples.Load(),
		Malformed: s.malformed.Load(),
		Overflows: s.overflows.Load(),
	}
}

// Start opens the source and begins streaming. It returns ErrSessionActive
// when the session is not idle. Open failures leave the session idle. A Stop
// or Close during Opening aborts the start.
func (s *Session) Start(ctx context.Context) error {
	openCtx, cancelOpen := context.WithCancel(ctx)
	defer cancelOpen()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionActive
	}
	op := &opening{cancel: cancelOpen, done: make(chan struct{})}
	s.state = StateOpening
	s.opening = op
	s.mu.Unlock()
	defer close(op.done)
	s.notify(Event{State: StateOpening})

	log := logx.WithSource(logx.Ctx(ctx), s.src.Name())
	rc, err := s.src.Open(openCtx)
	if err != nil {
		if aerr := s.finishAbortedOpen(op); aerr != nil {
			log.Info("start aborted", "err", aerr)
			return aerr
		}
		if !errors.Is(err, ErrUnsupported) {
			var acq *AcquisitionError
			if !errors.As(err, &acq) {
				err = &AcquisitionError{Source: s.src.Name(), Err: err}
			}
		}
		log.Warn("source open failed", "err", err)
		s.mu.Lock()
		s.opening = nil
		s.mu.Unlock()
		s.setState(StateIdle, Event{State: StateIdle, Err: err})
		return err
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:     id,
		log:    logx.WithSession(log, id),
		rc:     rc,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if s.opts.Renderer != nil {
		r.sched = window.NewScheduler(s.win, s.opts.Renderer, s.opts.TickPeriod)
	}

	s.mu.Lock()
	if aerr := s.abortErrLocked(op); aerr != nil {
		s.mu.Unlock()
		cancel()
		if cerr := rc.Close(); cerr != nil && !isShutdownErr(cerr) {
			log.Warn("source close failed", "err", cerr)
		}
		s.finishAbortedOpen(op)
		log.Info("start aborted", "err", aerr)
		return aerr
	}
	s.opening = nil
	s.current = r
	s.state = StateStreaming
	s.mu.Unlock()

	started := s.opts.Now()
	s.resetStats(id, started)
	s.win.Reset(started)
	if r.sched != nil {
		r.sched.Start(runCtx)
	}
	r.log.Info("session streaming", "policy", s.opts.Policy.String())
	s.notify(Event{SessionID: id, State: StateStreaming})

	go s.serve(runCtx, r)
	return nil
}

// abortErrLocked reports why an in-flight start must not proceed. s.mu must
// be held.
func (s *Session) abortErrLocked(op *opening) error {
	switch {
	case s.closed:
		return ErrClosed
	case op.aborted:
		return context.Canceled
	default:
		return nil
	}
}

// finishAbortedOpen returns the session to idle when op was aborted by Stop or
// Close and reports the abort cause. It returns nil otherwise.
func (s *Session) finishAbortedOpen(op *opening) error {
	s.mu.Lock()
	aerr := s.abortErrLocked(op)
	if aerr == nil {
		s.mu.Unlock()
		return nil
	}
	s.opening = nil
	s.state = StateIdle
	s.mu.Unlock()
	s.notify(Event{State: StateIdle})
	return aerr
}

// Stop cancels the active session and waits until it is idle. Stopping an
// idle session is a no-op. A start still opening its source is aborted.
func (s *Session) Stop() error {
	s.mu.Lock()
	if op := s.opening; op != nil {
		op.aborted = true
		s.mu.Unlock()
		op.cancel()
		<-op.done
		return nil
	}
	r := s.current
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	r.stopRequested.Store(true)
	enter := s.state == StateStreaming
	if enter {
		s.state = StateStopping
	}
	s.mu.Unlock()
	if enter {
		s.notify(Event{SessionID: r.id, State: StateStopping})
	}

	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-time.After(s.opts.CloseGrace):
	}
	// The read is still blocked; closing the source unblocks it.
	r.log.Debug("forcing source closed", "grace", s.opts.CloseGrace)
	_ = r.closeSource()
	<-r.done
	return nil
}

// Wait blocks until the active session (if any) has returned to idle.
func (s *Session) Wait() {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

// Close stops any active session and rejects further starts.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

func (s *Session) serve(ctx context.Context, r *run) {
	defer close(r.done)
	err := s.stream(ctx, r)

	s.mu.Lock()
	enter := s.state == StateStreaming
	if enter {
		s.state = StateStopping
	}
	s.mu.Unlock()

	var cause error
	switch {
	case err == nil:
		r.log.Info("stream complete")
	case errors.Is(err, context.Canceled):
		r.log.Debug("stream cancelled", "err", err)
	default:
		cause = err
		r.log.Warn("stream ended", "err", err)
	}
	if enter {
		s.notify(Event{SessionID: r.id, State: StateStopping, Err: cause})
	}

	r.cancel()
	if r.sched != nil {
		r.sched.Stop()
	}
	if cerr := r.closeSource(); cerr != nil && !isShutdownErr(cerr) {
		r.log.Warn("source close failed", "err", cerr)
	}
	r.log.Info("session idle",
		"samples", s.samples.Load(),
		"malformed", s.malformed.Load(),
		"overflows", s.overflows.Load(),
	)

	s.mu.Lock()
	if s.current == r {
		s.current = nil
	}
	s.state = StateIdle
	s.mu.Unlock()
	s.notify(Event{SessionID: r.id, State: StateIdle, Err: cause})
}

// stream runs the blocking reader and the decode pump until the source ends.
func (s *Session) stream(ctx context.Context, r *run) error {
	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan []byte, defaultChunkQueue)
	g.Go(func() error {
		defer close(chunks)
		return s.readLoop(gctx, r, chunks)
	})
	g.Go(func() error {
		s.pump(r, chunks)
		return nil
	})
	return g.Wait()
}

func (s *Session) readLoop(ctx context.Context, r *run, chunks chan<- []byte) error {
	buf := make([]byte, s.opts.ReadBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.rc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) && !r.stopRequested.Load() {
			return nil
		}
		if ctx.Err() != nil || (r.stopRequested.Load() && isShutdownErr(err)) {
			// Reads failing because the session is shutting down are expected.
			return context.Canceled
		}
		return &StreamReadError{Err: err}
	}
}

func (s *Session) pump(r *run, chunks <-chan []byte) {
	dec := newTextDecoder()
	ext := frame.NewExtractor(
		frame.WithPolicy(s.opts.Policy),
		frame.WithMaxPending(s.maxPending()),
	)
	for chunk := range chunks {
		s.deliver(r, ext, ext.Ingest(dec.decode(chunk, false)))
	}
	s.deliver(r, ext, ext.Ingest(dec.decode(nil, true)))
	s.deliver(r, ext, ext.Flush())
}

func (s *Session) deliver(r *run, ext *frame.Extractor, values []frame.Value) {
	st := ext.Stats()
	s.frames.Store(st.Frames)
	s.overflows.Store(st.Overflows)
	for _, v := range values {
		if !v.Valid() {
			s.malformed.Add(1)
			if s.warnLimiter.Allow() {
				r.log.Warn("malformed frame dropped", "raw", v.Raw, "total", s.malformed.Load())
			}
			continue
		}
		sample := s.win.Append(v.N)
		s.samples.Add(1)
		if s.opts.SampleHook != nil {
			s.opts.SampleHook(sample)
		}
	}
}

func (s *Session) maxPending() int {
	if s.opts.MaxPending == 0 {
		return frame.DefaultMaxPending
	}
	return s.opts.MaxPending
}

func (s *Session) resetStats(id string, started time.Time) {
	s.stats.Lock()
	s.stats.id = id
	s.stats.started = started
	s.stats.Unlock()
	s.frames.Store(0)
	s.samples.Store(0)
	s.malformed.Store(0)
	s.overflows.Store(0)
}

func (s *Session) setState(state State, ev Event) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.notify(ev)
}

func (s *Session) notify(ev Event) {
	if s.opts.Observer != nil {
		s.opts.Observer(ev)
	}
}

func (r *run) closeSource() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.rc.Close()
	})
	return r.closeErr
}
