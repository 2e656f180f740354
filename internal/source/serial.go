// Package source provides the byte streams a session can read from.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/verte-zerg/serialplot/internal/session"
)

const (
	// DefaultBaudRate matches the Arduino pulse-sensor sketches.
	DefaultBaudRate = 9600
	// DefaultReadTimeout bounds a blocking read so cancellation is observed.
	DefaultReadTimeout = 100 * time.Millisecond
)

// PortInfo describes a detected serial port.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// Serial opens a serial port. An empty Port selects the only detected port.
type Serial struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration

	// Seams for tests.
	open  func(name string, mode *serial.Mode) (serial.Port, error)
	ports func() ([]string, error)
}

// NewSerial returns a serial source for port at baud.
func NewSerial(port string, baud int, readTimeout time.Duration) *Serial {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Serial{
		Port:        port,
		BaudRate:    baud,
		ReadTimeout: readTimeout,
		open:        serial.Open,
		ports:       serial.GetPortsList,
	}
}

// Name implements session.Source.
func (s *Serial) Name() string {
	if s.Port == "" {
		return "serial:auto"
	}
	return s.Port
}

// Open implements session.Source.
func (s *Serial) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := s.resolve()
	if err != nil {
		return nil, err
	}
	port, err := s.open(name, &serial.Mode{BaudRate: s.BaudRate})
	if err != nil {
		return nil, &session.AcquisitionError{Source: name, Err: describePortError(err)}
	}
	if err := port.SetReadTimeout(s.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, &session.AcquisitionError{Source: name, Err: fmt.Errorf("failed to set read timeout: %w", err)}
	}
	return &serialReader{port: port}, nil
}

func (s *Serial) resolve() (string, error) {
	if s.Port != "" {
		return s.Port, nil
	}
	names, err := s.ports()
	if err != nil {
		return "", fmt.Errorf("%w: %v", session.ErrUnsupported, err)
	}
	switch len(names) {
	case 0:
		return "", &session.AcquisitionError{Err: errors.New("no serial ports detected")}
	case 1:
		return names[0], nil
	default:
		sort.Strings(names)
		return "", &session.AcquisitionError{
			Err: fmt.Errorf("several serial ports detected, pick one with --port: %s", strings.Join(names, ", ")),
		}
	}
}

// ListPorts returns detected ports with USB details where the OS provides them.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		out := make([]PortInfo, 0, len(details))
		for _, d := range details {
			out = append(out, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		sortPorts(out)
		return out, nil
	}
	names, lerr := serial.GetPortsList()
	if lerr != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrUnsupported, lerr)
	}
	out := make([]PortInfo, 0, len(names))
	for _, name := range names {
		out = append(out, PortInfo{Name: name})
	}
	sortPorts(out)
	return out, nil
}

func sortPorts(ports []PortInfo) {
	sort.Slice(ports, func(i, j int) bool {
		return ports[i].Name < ports[j].Name
	})
}

func describePortError(err error) error {
	var perr *serial.PortError
	if !errors.As(err, &perr) {
		return err
	}
	switch perr.Code() {
	case serial.PortBusy:
		return fmt.Errorf("port busy (is another program using it?): %w", err)
	case serial.PortNotFound:
		return fmt.Errorf("port not found: %w", err)
	case serial.PermissionDenied:
		return fmt.Errorf("permission denied (check dialout/uucp group): %w", err)
	default:
		return err
	}
}

// serialReader adapts serial.Port to io.ReadCloser.
type serialReader struct {
	port serial.Port
}

func (r *serialReader) Read(p []byte) (int, error) {
	n, err := r.port.Read(p)
	if err != nil {
		var perr *serial.PortError
		if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
			return n, session.ErrSourceClosed
		}
	}
	return n, err
}

func (r *serialReader) Close() error {
	return r.port.Close()
}
