// Package frame extracts <integer> frames from a chunked text stream.
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	openDelim  = '<'
	closeDelim = '>'

	// DefaultMaxPending bounds the unterminated frame kept between chunks.
	DefaultMaxPending = 4096
)

// closeOrBreak matches the frame terminator and the line terminators a frame
// may not span.
const closeOrBreak = ">\n\r\u2028\u2029"

// ErrMalformedFrame marks a frame whose content is not an integer.
var ErrMalformedFrame = errors.New("malformed frame")

// ParsePolicy selects how frame content is converted to an integer.
type ParsePolicy int

const (
	// ParseStrict requires the whole (space-trimmed) content to be a decimal integer.
	ParseStrict ParsePolicy = iota
	// ParseLenient accepts a leading signed digit run and ignores the rest.
	ParseLenient
)

// String returns the config name of the policy.
func (p ParsePolicy) String() string {
	switch p {
	case ParseLenient:
		return "lenient"
	default:
		return "strict"
	}
}

// ParsePolicyFromString maps a config value to a policy.
func ParsePolicyFromString(s string) (ParsePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ParseStrict, nil
	case "lenient":
		return ParseLenient, nil
	default:
		return ParseStrict, fmt.Errorf("unknown parse policy %q (want strict or lenient)", s)
	}
}

// Value is one decoded frame. Err is non-nil when Raw did not parse.
type Value struct {
	N   int
	Raw string
	Err error
}

// Valid reports whether the frame parsed to an integer.
func (v Value) Valid() bool {
	return v.Err == nil
}

// Stats counts extractor activity.
type Stats struct {
	Frames    uint64
	Malformed uint64
	Overflows uint64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPolicy sets the parse policy.
func WithPolicy(p ParsePolicy) Option {
	return func(e *Extractor) {
		e.policy = p
	}
}

// WithMaxPending caps the buffered unterminated frame. n <= 0 disables the cap.
func WithMaxPending(n int) Option {
	return func(e *Extractor) {
		e.maxPending = n
	}
}

// Extractor is a streaming decoder for <int> frames. It is not safe for
// concurrent use.
type Extractor struct {
	pending    string
	policy     ParsePolicy
	maxPending int
	stats      Stats
}

// NewExtractor returns an Extractor with the given options.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{maxPending: DefaultMaxPending}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ingest appends chunk to the pending text and returns every frame completed
// by it, in order of appearance.
func (e *Extractor) Ingest(chunk string) []Value {
	if chunk == "" {
		return nil
	}
	e.pending += chunk
	out := e.extract()
	if e.maxPending > 0 && len(e.pending) > e.maxPending {
		e.pending = ""
		e.stats.Overflows++
	}
	return out
}

// Flush runs a final extraction pass and discards any unterminated frame.
func (e *Extractor) Flush() []Value {
	out := e.extract()
	e.pending = ""
	return out
}

// Pending returns the buffered text not yet resolved into a frame.
func (e *Extractor) Pending() string {
	return e.pending
}

// Stats returns the extractor counters.
func (e *Extractor) Stats() Stats {
	return e.stats
}

func (e *Extractor) extract() []Value {
	var out []Value
	buf := e.pending
	pos := 0
	for {
		open := strings.IndexByte(buf[pos:], openDelim)
		if open < 0 {
			buf = ""
			break
		}
		open += pos
		end := strings.IndexAny(buf[open+1:], closeOrBreak)
		if end < 0 {
			buf = buf[open:]
			break
		}
		end += open + 1
		if buf[end] != closeDelim {
			// A line break before '>' means no frame can start at or before it.
			pos = end + 1
			continue
		}
		out = append(out, e.decode(buf[open+1:end]))
		pos = end + 1
	}
	e.pending = buf
	return out
}

func (e *Extractor) decode(raw string) Value {
	e.stats.Frames++
	var (
		n   int
		err error
	)
	switch e.policy {
	case ParseLenient:
		n, err = parseLenient(raw)
	default:
		n, err = parseStrict(raw)
	}
	if err != nil {
		e.stats.Malformed++
		return Value{Raw: raw, Err: err}
	}
	return Value{N: n, Raw: raw}
}

func parseStrict(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedFrame, raw)
	}
	return n, nil
}

func parseLenient(raw string) (int, error) {
	s := strings.TrimLeft(raw, " \t\n\r\v\f\u00a0\ufeff")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, fmt.Errorf("%w: %q", ErrMalformedFrame, raw)
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedFrame, raw)
	}
	return n, nil
}
