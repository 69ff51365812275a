// Package capture implements the capture/queue engine: a capture state machine
// that segments a producer's byte stream into packets, and a transfer state
// machine that frames completed packets into a bounded output ring.
//
// The two machines share only the staging buffer and the length queue, each a
// single-producer/single-consumer ring. The engine can be advanced in
// lockstep with Tick, or with both machines on their own goroutines with Run.
// The two modes must not be mixed on one Engine.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/atomic"

	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/framing"
	"github.com/irctrakz/wirecap/pkg/logging"
	"github.com/irctrakz/wirecap/pkg/ring"
)

const (
	// DefaultStagingCapacity is the default staging buffer size in bytes.
	DefaultStagingCapacity = 8 * 1024
	// DefaultLengthQueueDepth is the default number of queued length records.
	DefaultLengthQueueDepth = 256
	// DefaultRingCapacity is the default output ring size in bytes.
	DefaultRingCapacity = 64 * 1024

	spinLimit    = 64
	idleBackoff  = 20 * time.Microsecond
	ctxCheckMask = 1023

	// stepLead is how many steps the capture machine may run ahead of a
	// busy transfer machine in Run.
	stepLead = 16
)

var (
	// ErrInvalidConfig is returned for an unusable engine configuration.
	ErrInvalidConfig = errors.New("capture: invalid configuration")

	// ErrRunning is returned when Run is called on an engine that is already running.
	ErrRunning = errors.New("capture: engine already running")
)

// DefaultConfig returns the default engine configuration.
func DefaultConfig() core.EngineConfig {
	return core.EngineConfig{
		StagingCapacity:  DefaultStagingCapacity,
		LengthQueueDepth: DefaultLengthQueueDepth,
		RingCapacity:     DefaultRingCapacity,
		MaxPacketSize:    framing.USBMaxPacketSize,
	}
}

// Validate checks an engine configuration.
func Validate(cfg core.EngineConfig) error {
	switch {
	case cfg.StagingCapacity <= 0:
		return fmt.Errorf("%w: staging capacity must be positive, got %d", ErrInvalidConfig, cfg.StagingCapacity)
	case cfg.LengthQueueDepth <= 0:
		return fmt.Errorf("%w: length queue depth must be positive, got %d", ErrInvalidConfig, cfg.LengthQueueDepth)
	case cfg.RingCapacity < framing.HeaderSize:
		return fmt.Errorf("%w: ring capacity must hold a marker, got %d", ErrInvalidConfig, cfg.RingCapacity)
	case cfg.MaxPacketSize <= 0:
		return fmt.Errorf("%w: max packet size must be positive, got %d", ErrInvalidConfig, cfg.MaxPacketSize)
	case cfg.MaxPacketSize > framing.MaxLength:
		return fmt.Errorf("%w: max packet size %d collides with the overrun marker", ErrInvalidConfig, cfg.MaxPacketSize)
	}
	return nil
}

type counters struct {
	packetsCaptured    atomic.Uint64
	bytesCaptured      atomic.Uint64
	packetsTransferred atomic.Uint64
	bytesTransferred   atomic.Uint64
	stagingOverruns    atomic.Uint64
	ringOverruns       atomic.Uint64
	markersEmitted     atomic.Uint64
	bytesDiscarded     atomic.Uint64
	bytesDropped       atomic.Uint64
	unrecordedPackets  atomic.Uint64
}

// Engine is the capture/queue engine.
type Engine struct {
	cfg core.EngineConfig
	log *logrus.Entry

	staging *ring.Ring[byte]
	lengths *ring.Ring[core.LengthRecord]
	out     *ring.Ring[byte]
	stream  *Stream

	enabled atomic.Bool
	overrun atomic.Bool
	running atomic.Bool

	captureState  atomic.Int32
	transferState atomic.Int32

	// Owned by the capture machine.
	capLength     int
	capValid      bool
	capRecordable bool

	// pendingLoss is set while a lost packet still needs its length record.
	pendingLoss atomic.Bool

	// Step counts of each machine in Run.
	captureSteps  atomic.Int64
	transferSteps atomic.Int64

	// Owned by the transfer machine.
	xferLength      int
	xferInvalid     bool
	xferTransferred int

	stats counters
}

var _ core.Engine = (*Engine)(nil)

// New creates an engine from cfg.
func New(cfg core.EngineConfig) (*Engine, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	log := logging.Component("capture")
	if cfg.StagingCapacity < cfg.MaxPacketSize {
		log.Warnf("Staging capacity %d is below max packet size %d; large packets will be replaced by overrun markers",
			cfg.StagingCapacity, cfg.MaxPacketSize)
	}

	out := ring.New[byte](cfg.RingCapacity)
	e := &Engine{
		cfg:     cfg,
		log:     log,
		staging: ring.New[byte](cfg.StagingCapacity),
		lengths: ring.New[core.LengthRecord](cfg.LengthQueueDepth),
		out:     out,
		stream:  &Stream{out: out},
	}
	e.enabled.Store(cfg.StartEnabled)

	log.WithFields(logrus.Fields{
		"staging":     cfg.StagingCapacity,
		"lengthQueue": cfg.LengthQueueDepth,
		"ring":        cfg.RingCapacity,
		"maxPacket":   cfg.MaxPacketSize,
	}).Debugf("Capture engine created")
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() core.EngineConfig { return e.cfg }

// Output returns the consumer side of the output ring.
func (e *Engine) Output() *Stream { return e.stream }

// SetEnabled arms or disarms capture. It takes effect only between packets.
func (e *Engine) SetEnabled(enabled bool) {
	if e.enabled.Swap(enabled) != enabled {
		if enabled {
			e.log.Infof("Capture enabled")
		} else {
			e.log.Infof("Capture disabled")
		}
	}
}

// Enabled reports the capture enable control.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// CaptureState returns the capture machine's current state.
func (e *Engine) CaptureState() CaptureState {
	return CaptureState(e.captureState.Load())
}

// TransferState returns the transfer machine's current state.
func (e *Engine) TransferState() TransferState {
	return TransferState(e.transferState.Load())
}

// Status returns the engine's status outputs.
func (e *Engine) Status() core.Status {
	cs := e.CaptureState()
	ts := e.TransferState()
	enabled := e.enabled.Load()
	stopped := cs == AwaitStart || ts == Overrun || ts == ClearOverrun
	return core.Status{
		Enabled:       enabled,
		Idle:          cs == AwaitStart || cs == AwaitPacket,
		Capturing:     cs == CapturePacket,
		Overrun:       e.overrun.Load(),
		Stopped:       stopped,
		Discarding:    stopped && enabled,
		CaptureState:  cs.String(),
		TransferState: ts.String(),
	}
}

// Tick advances the capture machine with sample, then the transfer machine,
// by one step each.
func (e *Engine) Tick(sample core.Sample) {
	e.stepCapture(sample)
	e.stepTransfer()
}

// Quiescent reports whether every committed packet has reached the output
// ring and no packet is being received.
func (e *Engine) Quiescent() bool {
	return e.CaptureState() != CapturePacket && !e.pendingLoss.Load() &&
		e.lengths.Empty() && e.TransferState() == Idle
}

// Run drives the engine from p until p returns io.EOF and every captured
// packet has been transferred, or until ctx is done. The capture and transfer
// machines run on separate goroutines. While the transfer machine has work
// the capture machine stays within a fixed number of steps of it, so loss
// only occurs when the output ring cannot take a frame. A producer error
// other than io.EOF stops the engine and is returned.
func (e *Engine) Run(ctx context.Context, p core.Producer) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer e.running.Store(false)

	var captureDone atomic.Bool
	e.log.Infof("Capture engine running")

	pl := pool.New().WithContext(ctx).WithCancelOnError()
	pl.Go(func(ctx context.Context) error {
		defer captureDone.Store(true)
		return e.runCapture(ctx, p)
	})
	pl.Go(func(ctx context.Context) error {
		return e.runTransfer(ctx, &captureDone)
	})

	err := pl.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	e.log.Infof("Capture engine stopped")
	return err
}

func (e *Engine) runCapture(ctx context.Context, p core.Producer) error {
	done := ctx.Done()
	for n := 0; ; n++ {
		if n&ctxCheckMask == 0 && isDone(done) {
			return nil
		}
		if !e.awaitTransfer(done) {
			return nil
		}
		s, err := p.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("capture: producer: %w", err)
			}
			break
		}
		e.stepCapture(s)
		e.captureSteps.Inc()
		// Idle samples from a paced producer may be wall-clock timeouts.
		if !s.Active && isDone(done) {
			return nil
		}
	}

	// Close any packet in flight, then keep stepping until a pending loss
	// record has been queued.
	e.stepCapture(core.IdleSample)
	e.captureSteps.Inc()
	spins := 0
	for e.pendingLoss.Load() {
		if isDone(done) {
			return nil
		}
		e.stepCapture(core.IdleSample)
		e.captureSteps.Inc()
		spins = backoff(spins)
	}
	return nil
}

// awaitTransfer holds the capture machine while it is more than stepLead
// steps ahead of a transfer machine that has work. It reports false if done
// closes first.
func (e *Engine) awaitTransfer(done <-chan struct{}) bool {
	spins := 0
	for e.captureSteps.Load()-e.transferSteps.Load() >= stepLead {
		if isDone(done) {
			return false
		}
		spins = backoff(spins)
	}
	return true
}

func (e *Engine) runTransfer(ctx context.Context, captureDone *atomic.Bool) error {
	done := ctx.Done()
	spins := 0
	for n := 0; ; n++ {
		if n&ctxCheckMask == 0 && isDone(done) {
			return nil
		}
		if e.stepTransfer() {
			e.transferSteps.Inc()
			spins = 0
			continue
		}
		// A step without work is idle or waiting on the consumer. Either way
		// the capture machine is not held back by it. While capture keeps
		// moving the wait stays a yield, so the next length is seen promptly.
		if c := e.captureSteps.Load(); e.transferSteps.Load() < c {
			e.transferSteps.Store(c)
			spins = 0
		}
		if captureDone.Load() && e.lengths.Empty() && e.TransferState() == Idle {
			return nil
		}
		if isDone(done) {
			return nil
		}
		spins = backoff(spins)
	}
}

func isDone(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func backoff(spins int) int {
	if spins < spinLimit {
		runtime.Gosched()
		return spins + 1
	}
	time.Sleep(idleBackoff)
	return spins
}

func (e *Engine) setOverrun(reason string) {
	if e.overrun.CompareAndSwap(false, true) {
		e.log.WithField("reason", reason).Warnf("Overrun: packets are being discarded")
	}
}

func (e *Engine) clearOverrun() {
	if e.overrun.Swap(false) {
		e.log.Infof("Overrun cleared")
	}
}

// Metrics returns a snapshot of the engine counters and queue levels.
func (e *Engine) Metrics() core.EngineMetrics {
	return core.EngineMetrics{
		PacketsCaptured:    e.stats.packetsCaptured.Load(),
		BytesCaptured:      e.stats.bytesCaptured.Load(),
		PacketsTransferred: e.stats.packetsTransferred.Load(),
		BytesTransferred:   e.stats.bytesTransferred.Load(),
		StagingOverruns:    e.stats.stagingOverruns.Load(),
		RingOverruns:       e.stats.ringOverruns.Load(),
		MarkersEmitted:     e.stats.markersEmitted.Load(),
		BytesDiscarded:     e.stats.bytesDiscarded.Load(),
		BytesDropped:       e.stats.bytesDropped.Load(),
		UnrecordedPackets:  e.stats.unrecordedPackets.Load(),
		StagingLevel:       uint64(e.staging.Level()),
		LengthQueueLevel:   uint64(e.lengths.Level()),
		RingLevel:          uint64(e.out.Level()),
	}
}

// MetricsMap returns the metrics snapshot keyed by name.
func (e *Engine) MetricsMap() map[string]uint64 {
	m := e.Metrics()
	return map[string]uint64{
		"packets_captured":    m.PacketsCaptured,
		"bytes_captured":      m.BytesCaptured,
		"packets_transferred": m.PacketsTransferred,
		"bytes_transferred":   m.BytesTransferred,
		"staging_overruns":    m.StagingOverruns,
		"ring_overruns":       m.RingOverruns,
		"markers_emitted":     m.MarkersEmitted,
		"bytes_discarded":     m.BytesDiscarded,
		"bytes_dropped":       m.BytesDropped,
		"unrecorded_packets":  m.UnrecordedPackets,
		"staging_level":       m.StagingLevel,
		"length_queue_level":  m.LengthQueueLevel,
		"ring_level":          m.RingLevel,
	}
}
