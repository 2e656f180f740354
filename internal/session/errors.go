package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrUnsupported reports that the host cannot provide the requested source.
	ErrUnsupported = errors.New("serial ports are not supported on this host")
	// ErrSessionActive is returned by Start while a session is not idle.
	ErrSessionActive = errors.New("session already active")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("session closed")
	// ErrSourceClosed is returned by sources read after Close.
	ErrSourceClosed = errors.New("source closed")
)

// AcquisitionError wraps a failure to select or open the source.
type AcquisitionError struct {
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("failed to open source: %v", e.Err)
	}
	return fmt.Sprintf("failed to open %s: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// StreamReadError wraps a failure surfacing from the read loop.
type StreamReadError struct {
	Err error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("stream read failed: %v", e.Err)
}

func (e *StreamReadError) Unwrap() error {
	return e.Err
}

// isShutdownErr reports errors produced by tearing the pipeline down.
func isShutdownErr(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, ErrSourceClosed)
}
