// Package sink consumes the engine's output stream: it drains bytes, rebuilds
// frames and hands them to frame handlers such as a pcap writer or a TCP
// stream server.
package sink

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/framing"
	"github.com/irctrakz/wirecap/pkg/logging"
)

const (
	// DefaultDrainInterval is how long the pump waits when the stream is empty.
	DefaultDrainInterval = 50 * time.Microsecond

	drainBufferSize = 4096
)

// PumpMetrics contains metrics for a pump.
type PumpMetrics struct {
	// Bytes is the number of stream bytes consumed.
	Bytes uint64

	// Frames is the number of packet frames delivered.
	Frames uint64

	// Markers is the number of overrun markers delivered.
	Markers uint64

	// HandlerErrors is the number of frames the handler rejected.
	HandlerErrors uint64
}

// Pump is the single consumer of an output stream.
type Pump struct {
	stream   core.OutputStream
	handler  core.FrameHandler
	interval time.Duration
	log      *logrus.Entry

	dec *framing.Decoder
	buf []byte

	bytes         atomic.Uint64
	frames        atomic.Uint64
	markers       atomic.Uint64
	handlerErrors atomic.Uint64
}

// NewPump creates a pump from stream to handler. A non-positive interval
// selects DefaultDrainInterval.
func NewPump(stream core.OutputStream, handler core.FrameHandler, interval time.Duration) *Pump {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	return &Pump{
		stream:   stream,
		handler:  handler,
		interval: interval,
		log:      logging.Component("sink"),
		dec:      framing.NewDecoder(),
		buf:      make([]byte, drainBufferSize),
	}
}

// DrainOnce consumes the bytes available right now and returns how many were
// consumed.
func (p *Pump) DrainOnce() int {
	total := 0
	for {
		n := p.stream.Drain(p.buf)
		if n == 0 {
			return total
		}
		total += n
		p.bytes.Add(uint64(n))
		for _, b := range p.buf[:n] {
			if f, ok := p.dec.Feed(b); ok {
				p.deliver(f)
			}
		}
	}
}

func (p *Pump) deliver(f core.Frame) {
	if f.Overrun() {
		p.markers.Inc()
	} else {
		p.frames.Inc()
	}
	if p.handler == nil {
		return
	}
	if err := p.handler.HandleFrame(f); err != nil {
		if p.handlerErrors.Inc() == 1 {
			p.log.Errorf("Frame handler failed: %v", err)
		} else {
			p.log.Debugf("Frame handler failed: %v", err)
		}
	}
}

// Run drains the stream until ctx is done, then drains what is left.
func (p *Pump) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		if p.DrainOnce() > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			p.DrainOnce()
			return nil
		case <-t.C:
		}
	}
}

// AtBoundary reports whether everything consumed so far formed whole frames.
func (p *Pump) AtBoundary() bool { return p.dec.AtBoundary() }

// Metrics returns metrics for the pump.
func (p *Pump) Metrics() PumpMetrics {
	return PumpMetrics{
		Bytes:         p.bytes.Load(),
		Frames:        p.frames.Load(),
		Markers:       p.markers.Load(),
		HandlerErrors: p.handlerErrors.Load(),
	}
}
