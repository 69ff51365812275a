package core

import (
	"go.uber.org/atomic"
)

// Global debug flag that can be set via configuration
var debugMode atomic.Bool

// SetDebugMode sets the global debug mode flag
// When debug mode is enabled, frame data is copied on construction and on access
// When disabled, frames alias the caller's buffer for performance
func SetDebugMode(enabled bool) {
	debugMode.Store(enabled)
}

// IsDebugMode returns whether debug mode is enabled
func IsDebugMode() bool {
	return debugMode.Load()
}

// Frame is one unit of the engine's output stream as seen by a consumer:
// either a captured packet or an overrun marker standing in for a packet that
// was discarded.
type Frame interface {
	// Data returns the captured packet bytes. Overrun markers carry no data.
	// In debug mode, this returns a copy of the data
	Data() []byte

	// Length returns the number of packet bytes.
	Length() int

	// Overrun reports whether this frame is an overrun marker.
	Overrun() bool
}

// FrameHandler consumes decoded frames from the output stream.
type FrameHandler interface {
	// HandleFrame is called once per frame, in output order.
	HandleFrame(frame Frame) error
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(frame Frame) error

// HandleFrame implements FrameHandler.
func (f FrameHandlerFunc) HandleFrame(frame Frame) error { return f(frame) }

// SimpleFrame is the default Frame implementation
type SimpleFrame struct {
	data    []byte
	overrun bool
}

// NewFrame creates a frame holding captured packet bytes
func NewFrame(data []byte) Frame {
	if data == nil {
		return &SimpleFrame{data: make([]byte, 0)}
	}

	// In debug mode, make a copy of the data for safety
	if IsDebugMode() {
		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		return &SimpleFrame{data: dataCopy}
	}

	return &SimpleFrame{data: data}
}

// NewOverrunFrame returns the frame a consumer sees in place of a discarded packet.
func NewOverrunFrame() Frame {
	return &SimpleFrame{data: make([]byte, 0), overrun: true}
}

// Data returns the frame data
func (f *SimpleFrame) Data() []byte {
	if IsDebugMode() {
		dataCopy := make([]byte, len(f.data))
		copy(dataCopy, f.data)
		return dataCopy
	}
	return f.data
}

// Length returns the frame payload length
func (f *SimpleFrame) Length() int {
	return len(f.data)
}

// Overrun reports whether the frame is an overrun marker
func (f *SimpleFrame) Overrun() bool {
	return f.overrun
}
