package core

// LengthRecord is the per-packet entry of the length/status queue.
type LengthRecord struct {
	// Length is the number of bytes of the packet held in the staging buffer.
	Length uint16

	// Invalid is set when the staging buffer refused bytes of this packet.
	Invalid bool
}

// Engine represents the capture/queue engine.
type Engine interface {
	// SetEnabled arms or disarms capture.
	SetEnabled(enabled bool)

	// Status returns the current status outputs.
	Status() Status

	// Metrics returns metrics for the engine.
	Metrics() EngineMetrics
}

// OutputStream is the consumer side of the output ring buffer.
type OutputStream interface {
	// Valid reports whether a byte is available.
	Valid() bool

	// Payload returns the byte at the head of the stream without consuming it.
	Payload() byte

	// Next consumes and returns the head byte when ready is asserted and a
	// byte is available.
	Next(ready bool) (byte, bool)

	// Drain consumes up to len(dst) available bytes without waiting.
	Drain(dst []byte) int
}

// Status contains the engine's externally visible status signals.
type Status struct {
	// Enabled mirrors the capture enable control.
	Enabled bool `json:"enabled"`

	// Idle is set while no packet is being received.
	Idle bool `json:"idle"`

	// Capturing is set while a packet is being received.
	Capturing bool `json:"capturing"`

	// Overrun is sticky: set on any discard since the last re-enable.
	Overrun bool `json:"overrun"`

	// Stopped is set while waiting for a start point or discarding.
	Stopped bool `json:"stopped"`

	// Discarding is set while stopped with capture enabled.
	Discarding bool `json:"discarding"`

	// CaptureState is the name of the capture state machine's state.
	CaptureState string `json:"capture_state"`

	// TransferState is the name of the transfer state machine's state.
	TransferState string `json:"transfer_state"`
}

// EngineMetrics contains counters and queue levels for the engine.
type EngineMetrics struct {
	// PacketsCaptured is the number of packets committed to the length queue.
	PacketsCaptured uint64

	// BytesCaptured is the number of bytes accepted into the staging buffer.
	BytesCaptured uint64

	// PacketsTransferred is the number of packets framed into the output ring.
	PacketsTransferred uint64

	// BytesTransferred is the number of payload bytes framed into the output ring.
	BytesTransferred uint64

	// StagingOverruns is the number of packets that overflowed the staging buffer.
	StagingOverruns uint64

	// RingOverruns is the number of packets rejected for lack of output ring room.
	RingOverruns uint64

	// MarkersEmitted is the number of overrun markers written.
	MarkersEmitted uint64

	// BytesDiscarded is the number of staged bytes drained without transfer.
	BytesDiscarded uint64

	// BytesDropped is the number of producer bytes that never reached staging.
	BytesDropped uint64

	// UnrecordedPackets is the number of packets lost because the length queue was full.
	UnrecordedPackets uint64

	// StagingLevel is the current staging buffer occupancy in bytes.
	StagingLevel uint64

	// LengthQueueLevel is the current number of queued length records.
	LengthQueueLevel uint64

	// RingLevel is the current output ring occupancy in bytes.
	RingLevel uint64
}
