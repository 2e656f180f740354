package source

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"

	"github.com/muesli/cancelreader"

	"github.com/verte-zerg/serialplot/internal/session"
)

// StdinName is the port value selecting standard input.
const StdinName = "-"

// Reader streams from an existing reader such as os.Stdin, e.g. a captured
// log or `cat /dev/ttyACM0`.
type Reader struct {
	name string
	r    io.Reader
}

// NewReader wraps r as a session source.
func NewReader(name string, r io.Reader) *Reader {
	return &Reader{name: name, r: r}
}

// Name implements session.Source.
func (s *Reader) Name() string {
	return s.name
}

// Open implements session.Source. The returned reader can be closed while a
// Read is blocked. Regular files never block and are read directly.
func (s *Reader) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if isRegularFile(s.r) {
		return &fileReadCloser{r: s.r}, nil
	}
	cr, err := cancelreader.NewReader(s.r)
	if err != nil {
		// Descriptors the poller rejects are read without cancellation.
		return &fileReadCloser{r: s.r}, nil
	}
	return &cancelReadCloser{cr: cr}, nil
}

func isRegularFile(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode().IsRegular()
}

// fileReadCloser leaves the underlying reader open; after Close reads return
// session.ErrSourceClosed.
type fileReadCloser struct {
	r      io.Reader
	closed atomic.Bool
}

func (f *fileReadCloser) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, session.ErrSourceClosed
	}
	return f.r.Read(p)
}

func (f *fileReadCloser) Close() error {
	f.closed.Store(true)
	return nil
}

type cancelReadCloser struct {
	cr cancelreader.CancelReader
}

func (c *cancelReadCloser) Read(p []byte) (int, error) {
	n, err := c.cr.Read(p)
	if errors.Is(err, cancelreader.ErrCanceled) {
		return n, session.ErrSourceClosed
	}
	return n, err
}

func (c *cancelReadCloser) Close() error {
	c.cr.Cancel()
	return c.cr.Close()
}
