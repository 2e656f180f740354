package session

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/verte-zerg/serialplot/internal/frame"
	"github.com/verte-zerg/serialplot/internal/window"
)

type pipeSource struct {
	mu      sync.Mutex
	w       *io.PipeWriter
	openErr error
}

func (p *pipeSource) Name() string { return "pipe" }

func (p *pipeSource) Open(context.Context) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	r, w := io.Pipe()
	p.w = w
	return r, nil
}

func (p *pipeSource) writer() *io.PipeWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w
}

// gatedSource blocks in Open until release is closed or ctx is cancelled.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	opened  *trackedReader
}

func newGatedSource() *gatedSource {
	return &gatedSource{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSource) Name() string { return "gated" }

func (g *gatedSource) Open(ctx context.Context) (io.ReadCloser, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r, _ := io.Pipe()
	tr := &trackedReader{PipeReader: r}
	g.mu.Lock()
	g.opened = tr
	g.mu.Unlock()
	return tr, nil
}

func (g *gatedSource) reader() *trackedReader {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened
}

type trackedReader struct {
	*io.PipeReader
	mu     sync.Mutex
	closed bool
}

func (r *trackedReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.PipeReader.Close()
}

func (r *trackedReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// scriptedSource replays reads; an empty entry is a read timeout.
type scriptedSource struct {
	reads []string
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(&scriptedReader{reads: s.reads}), nil
}

type scriptedReader struct {
	reads []string
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.reads) == 0 {
		return 0, io.EOF
	}
	next := r.reads[0]
	r.reads = r.reads[1:]
	return copy(p, next), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.State
	}
	return out
}

func (l *eventLog) last() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return Event{}
	}
	return l.events[len(l.events)-1]
}

func newTestSession(src Source, opts Options) (*Session, *eventLog) {
	events := &eventLog{}
	opts.Observer = events.observe
	if opts.CloseGrace == 0 {
		opts.CloseGrace = 10 * time.Millisecond
	}
	return New(src, window.New(100), opts), events
}

func sampleValues(w *window.Window) []int {
	snap := w.Snapshot()
	out := make([]int, len(snap))
	for i, s := range snap {
		out[i] = s.Value
	}
	return out
}

func write(t *testing.T, src *pipeSource, s string) {
	t.Helper()
	if _, err := src.writer().Write([]byte(s)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func mustStart(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
}

func mustStop(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

var fullCycle = []State{StateOpening, StateStreaming, StateStopping, StateIdle}

func TestStopWithoutStartIsNoop(t *testing.T) {
	s, events := newTestSession(&pipeSource{}, Options{})
	mustStop(t, s)
	mustStop(t, s)
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if got := events.states(); len(got) != 0 {
		t.Fatalf("expected no events, got %v", got)
	}
}

func TestStreamAppendsSamplesUntilStopped(t *testing.T) {
	src := &pipeSource{}
	s, events := newTestSession(src, Options{})
	mustStart(t, s)
	if s.State() != StateStreaming {
		t.Fatalf("expected streaming, got %s", s.State())
	}

	write(t, src, "<10><2")
	write(t, src, "0><30>")
	waitFor(t, "three samples", func() bool { return s.Window().Len() == 3 })
	if got := sampleValues(s.Window()); !slices.Equal(got, []int{10, 20, 30}) {
		t.Fatalf("unexpected samples %v", got)
	}

	mustStop(t, s)
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if got := events.states(); !slices.Equal(got, fullCycle) {
		t.Fatalf("unexpected transitions %v", got)
	}
	if err := events.last().Err; err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}

	stats := s.Stats()
	if stats.Samples != 3 || stats.SessionID == "" {
		t.Fatalf("unexpected stats %+v", stats)
	}
	mustStop(t, s)
}

func TestStartWhileActive(t *testing.T) {
	src := &pipeSource{}
	s, _ := newTestSession(src, Options{})
	mustStart(t, s)
	defer func() { _ = s.Stop() }()
	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestOpenFailureReturnsToIdle(t *testing.T) {
	src := &pipeSource{openErr: errors.New("no device selected")}
	s, events := newTestSession(src, Options{})
	err := s.Start(context.Background())

	var acq *AcquisitionError
	if !errors.As(err, &acq) {
		t.Fatalf("expected AcquisitionError, got %v", err)
	}
	if acq.Source != "pipe" {
		t.Fatalf("unexpected source %q", acq.Source)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if got := events.states(); !slices.Equal(got, []State{StateOpening, StateIdle}) {
		t.Fatalf("unexpected transitions %v", got)
	}
	if events.last().Err == nil {
		t.Fatalf("expected idle event to carry the cause")
	}

	src.mu.Lock()
	src.openErr = nil
	src.mu.Unlock()
	mustStart(t, s)
	mustStop(t, s)
}

func TestUnsupportedPassesThrough(t *testing.T) {
	s, _ := newTestSession(&pipeSource{openErr: ErrUnsupported}, Options{})
	err := s.Start(context.Background())
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	var acq *AcquisitionError
	if errors.As(err, &acq) {
		t.Fatalf("expected unwrapped error, got %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
}

func TestEndOfStreamReturnsToIdle(t *testing.T) {
	src := &pipeSource{}
	s, events := newTestSession(src, Options{})
	mustStart(t, s)

	write(t, src, "<5><")
	write(t, src, "7><42")
	if err := src.writer().Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	s.Wait()

	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if got := sampleValues(s.Window()); !slices.Equal(got, []int{5, 7}) {
		t.Fatalf("unexpected samples %v", got)
	}
	if got := events.states(); !slices.Equal(got, fullCycle) {
		t.Fatalf("unexpected transitions %v", got)
	}
	if err := events.last().Err; err != nil {
		t.Fatalf("expected clean end of stream, got %v", err)
	}
}

func TestReadFailureEndsSession(t *testing.T) {
	src := &pipeSource{}
	s, events := newTestSession(src, Options{})
	mustStart(t, s)

	write(t, src, "<1>")
	if err := src.writer().CloseWithError(errors.New("device disconnected")); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	s.Wait()

	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	var readErr *StreamReadError
	if err := events.last().Err; !errors.As(err, &readErr) {
		t.Fatalf("expected StreamReadError, got %v", err)
	}
	if got := sampleValues(s.Window()); !slices.Equal(got, []int{1}) {
		t.Fatalf("unexpected samples %v", got)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	src := &pipeSource{}
	s, _ := newTestSession(src, Options{Policy: frame.ParseStrict})
	mustStart(t, s)

	write(t, src, "<1><oops><2><3x>")
	waitFor(t, "malformed count", func() bool { return s.Stats().Malformed == 2 })
	mustStop(t, s)

	if got := sampleValues(s.Window()); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("unexpected samples %v", got)
	}
	if frames := s.Stats().Frames; frames != 4 {
		t.Fatalf("expected 4 frames, got %d", frames)
	}
}

func TestSchedulerRendersWhileStreaming(t *testing.T) {
	src := &pipeSource{}
	var (
		mu   sync.Mutex
		last []window.Sample
	)
	renderer := window.RendererFunc(func(samples []window.Sample) {
		mu.Lock()
		defer mu.Unlock()
		last = samples
	})
	var hooked []int
	s, _ := newTestSession(src, Options{
		Renderer:   renderer,
		TickPeriod: time.Millisecond,
		SampleHook: func(sample window.Sample) { hooked = append(hooked, sample.Value) },
	})
	s.Window().SetMaxLength(2)
	mustStart(t, s)

	write(t, src, "<10><20><30>")
	waitFor(t, "render of the last two samples", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 2 && last[1].Value == 30
	})
	mustStop(t, s)

	if got := sampleValues(s.Window()); !slices.Equal(got, []int{20, 30}) {
		t.Fatalf("unexpected window %v", got)
	}
	if !slices.Equal(hooked, []int{10, 20, 30}) {
		t.Fatalf("unexpected hooked samples %v", hooked)
	}
}

func TestCloseRejectsStart(t *testing.T) {
	src := &pipeSource{}
	s, _ := newTestSession(src, Options{})
	mustStart(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseWhileOpeningAbortsStart(t *testing.T) {
	src := newGatedSource()
	s, events := newTestSession(src, Options{})
	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()
	<-src.entered
	if s.State() != StateOpening {
		t.Fatalf("expected opening, got %s", s.State())
	}

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	waitFor(t, "close to flag the start", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closed
	})
	close(src.release)

	if err := <-closed; err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := <-started; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from start, got %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after close, got %s", s.State())
	}
	if r := src.reader(); r != nil && !r.isClosed() {
		t.Fatalf("expected opened source to be closed")
	}
	if got := events.states(); !slices.Equal(got, []State{StateOpening, StateIdle}) {
		t.Fatalf("unexpected transitions %v", got)
	}
}

func TestStopWhileOpeningCancelsOpen(t *testing.T) {
	src := newGatedSource()
	s, _ := newTestSession(src, Options{})
	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()
	<-src.entered

	mustStop(t, s)
	if err := <-started; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from start, got %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", s.State())
	}
	if src.reader() != nil {
		t.Fatalf("expected open to be cancelled before acquiring the source")
	}

	// The session is reusable after an aborted start.
	s.src = &pipeSource{}
	mustStart(t, s)
	mustStop(t, s)
}

func TestEmptyReadsBetweenChunks(t *testing.T) {
	var reads []string
	for i := 0; i < 50; i++ {
		reads = append(reads, "")
	}
	reads = append(reads, "<1><", "", "2>", "", "", "<3>")
	s, _ := newTestSession(&scriptedSource{reads: reads}, Options{ReadBufferSize: 4})
	mustStart(t, s)
	s.Wait()

	if got := sampleValues(s.Window()); !slices.Equal(got, []int{1, 2, 3}) {
		t.Fatalf("unexpected samples %v", got)
	}
}

func TestTextDecoderCarriesSplitRunes(t *testing.T) {
	d := newTextDecoder()
	raw := []byte("<é>")
	steps := []struct {
		in    []byte
		atEOF bool
		want  string
	}{
		{raw[:2], false, "<"},
		{raw[2:], false, "é>"},
		{[]byte{0xff}, false, "\ufffd"},
		{[]byte{0xc3}, false, ""},
		{nil, true, "\ufffd"},
		{[]byte("<1>"), false, "<1>"},
	}
	for i, step := range steps {
		if got := d.decode(step.in, step.atEOF); got != step.want {
			t.Fatalf("step %d: expected %q, got %q", i, step.want, got)
		}
	}
}

func TestStateString(t *testing.T) {
	if got := StateStreaming.String(); got != "streaming" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := State(42).String(); got != "unknown" {
		t.Fatalf("unexpected name %q", got)
	}
}
