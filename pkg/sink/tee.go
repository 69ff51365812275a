package sink

import (
	"errors"

	"github.com/irctrakz/wirecap/pkg/core"
)

// Tee fans frames out to several handlers in order.
type Tee struct {
	handlers []core.FrameHandler
}

// NewTee returns a handler delivering each frame to every non-nil handler.
func NewTee(handlers ...core.FrameHandler) *Tee {
	t := &Tee{}
	for _, h := range handlers {
		if h != nil {
			t.handlers = append(t.handlers, h)
		}
	}
	return t
}

// HandleFrame implements core.FrameHandler. Every handler sees the frame even
// if an earlier one fails.
func (t *Tee) HandleFrame(f core.Frame) error {
	var errs []error
	for i, h := range t.handlers {
		frame := f
		if i > 0 && !f.Overrun() {
			// Later handlers get their own copy of the bytes.
			frame = core.NewFrame(append([]byte(nil), f.Data()...))
		}
		if err := h.HandleFrame(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
