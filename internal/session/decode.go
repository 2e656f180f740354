package session

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const decodeBufSize = 4096

// textDecoder turns raw byte chunks into text, carrying incomplete UTF-8
// sequences over to the next chunk. Invalid bytes decode to U+FFFD.
type textDecoder struct {
	t     transform.Transformer
	carry []byte
	dst   []byte
}

func newTextDecoder() *textDecoder {
	return &textDecoder{
		t:   unicode.UTF8.NewDecoder(),
		dst: make([]byte, decodeBufSize),
	}
}

// decode converts p. With atEOF set, a trailing partial sequence is flushed.
func (d *textDecoder) decode(p []byte, atEOF bool) string {
	src := append(d.carry, p...)
	var out strings.Builder
	for {
		nDst, nSrc, err := d.t.Transform(d.dst, src, atEOF)
		out.Write(d.dst[:nDst])
		src = src[nSrc:]
		if errors.Is(err, transform.ErrShortDst) && (nDst > 0 || nSrc > 0) {
			continue
		}
		break
	}
	d.carry = append(d.carry[:0], src...)
	return out.String()
}
