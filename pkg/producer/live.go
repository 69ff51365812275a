package producer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/logging"
)

const (
	// DefaultQueueDepth is the number of injected packets a Live producer buffers.
	DefaultQueueDepth = 100

	// DefaultIdleInterval bounds how long Next waits before reporting an idle step.
	DefaultIdleInterval = time.Millisecond
)

// Live is a producer fed with packets from other goroutines, such as a
// network listener or a test. Between packets it reports idle samples at
// least once per idle interval, so the capture engine keeps stepping.
type Live struct {
	name string
	idle time.Duration

	packetCh chan []byte
	mu       sync.Mutex
	closed   bool

	// Owned by the reading goroutine.
	cur    cursor
	loaded bool

	packetsInjected atomic.Uint64
	bytesInjected   atomic.Uint64
	samples         atomic.Uint64
	errors          atomic.Uint64
}

var _ core.Producer = (*Live)(nil)

// NewLive creates a live producer. Non-positive arguments select defaults.
func NewLive(name string, queueDepth int, idle time.Duration) *Live {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	return &Live{
		name:     name,
		idle:     idle,
		packetCh: make(chan []byte, queueDepth),
		cur:      newCursor(DefaultGap),
		loaded:   true,
	}
}

// Name returns the producer name.
func (l *Live) Name() string { return l.name }

// Inject queues a packet for emission. The data is copied. A full queue
// drops the packet and returns an error.
func (l *Live) Inject(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	dataCopy := getBuffer(len(data))
	copy(dataCopy, data)

	select {
	case l.packetCh <- dataCopy:
		l.packetsInjected.Inc()
		l.bytesInjected.Add(uint64(len(data)))
		logging.Debugf("Live producer %s queued packet of length %d", l.name, len(data))
		return nil
	default:
		putBuffer(dataCopy)
		l.errors.Inc()
		return fmt.Errorf("producer %s: packet queue full, packet dropped", l.name)
	}
}

// Close stops accepting packets. Packets already queued are still emitted,
// after which Next returns io.EOF.
func (l *Live) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.packetCh)
	logging.Infof("Live producer %s closed", l.name)
	return nil
}

// Next implements core.Producer.
func (l *Live) Next() (core.Sample, error) {
	for {
		if l.loaded {
			if s, ok := l.cur.next(); ok {
				l.samples.Inc()
				return s, nil
			}
			l.loaded = false
			putBuffer(l.cur.data)
			l.cur.data = nil
		}

		data, ok, timedOut := l.wait()
		if timedOut {
			l.samples.Inc()
			return core.IdleSample, nil
		}
		if !ok {
			return core.Sample{}, io.EOF
		}
		l.cur.load(data)
		l.loaded = true
	}
}

func (l *Live) wait() (data []byte, ok, timedOut bool) {
	select {
	case data, ok = <-l.packetCh:
		return data, ok, false
	default:
	}

	t := time.NewTimer(l.idle)
	defer t.Stop()
	select {
	case data, ok = <-l.packetCh:
		return data, ok, false
	case <-t.C:
		return nil, true, true
	}
}

// Metrics returns metrics for the producer.
func (l *Live) Metrics() core.ProducerMetrics {
	return core.ProducerMetrics{
		PacketsInjected: l.packetsInjected.Load(),
		BytesInjected:   l.bytesInjected.Load(),
		Samples:         l.samples.Load(),
		Errors:          l.errors.Load(),
	}
}
