package producer

import (
	"github.com/irctrakz/wirecap/pkg/core"
)

// DefaultGap is the number of idle samples emitted after each packet.
const DefaultGap = 1

// cursor turns one packet at a time into samples: one active sample per
// byte, then gap idle samples. A fresh cursor holds a single idle sample so
// an armed engine can leave its start state before the first packet.
type cursor struct {
	gap int

	data     []byte
	pos      int
	active   bool
	idleLeft int
}

func newCursor(gap int) cursor {
	if gap < 1 {
		gap = DefaultGap
	}
	return cursor{gap: gap, idleLeft: 1}
}

func (c *cursor) load(data []byte) {
	c.data = data
	c.pos = 0
	c.active = true
	c.idleLeft = c.gap
}

// next returns the next sample of the loaded packet. ok is false once the
// packet and its trailing gap have been emitted.
func (c *cursor) next() (s core.Sample, ok bool) {
	if c.active {
		if c.pos < len(c.data) {
			b := c.data[c.pos]
			c.pos++
			return core.ByteSample(b), true
		}
		if len(c.data) == 0 && c.pos == 0 {
			// An empty packet still raises active for one step.
			c.pos++
			return core.Sample{Active: true}, true
		}
		c.active = false
	}
	if c.idleLeft > 0 {
		c.idleLeft--
		return core.IdleSample, true
	}
	return core.Sample{}, false
}
