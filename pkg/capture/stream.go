package capture

import (
	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/ring"
)

// Stream is the consumer side of the output ring. It must be read from a
// single goroutine.
type Stream struct {
	out *ring.Ring[byte]
}

var _ core.OutputStream = (*Stream)(nil)

// Valid reports whether a byte is available.
func (s *Stream) Valid() bool { return !s.out.Empty() }

// Payload returns the head byte without consuming it. It returns 0 when the
// stream is empty.
func (s *Stream) Payload() byte {
	b, _ := s.out.Peek()
	return b
}

// Next consumes the head byte if ready is set and a byte is available.
func (s *Stream) Next(ready bool) (byte, bool) {
	if !ready {
		return 0, false
	}
	return s.out.Pop()
}

// Drain moves up to len(dst) available bytes into dst.
func (s *Stream) Drain(dst []byte) int { return s.out.PopInto(dst) }

// Level returns the number of buffered output bytes.
func (s *Stream) Level() int { return s.out.Level() }
