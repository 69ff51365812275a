// Package framing implements the output stream format of the capture engine.
//
// Every captured packet is emitted as a two byte big-endian length followed by
// the packet bytes. A discarded packet is replaced by the reserved length
// 0xFFFF with no payload, the overrun marker, so a consumer always stays in
// sync with frame boundaries even when data was lost.
package framing

import (
	"errors"
	"fmt"

	"github.com/irctrakz/wirecap/pkg/core"
)

const (
	// HeaderSize is the size of the length prefix in bytes.
	HeaderSize = 2

	// OverrunMarker is the reserved length value marking a discarded packet.
	OverrunMarker uint16 = 0xFFFF

	// MarkerByte is each byte of the overrun marker.
	MarkerByte byte = 0xFF

	// MaxLength is the largest encodable packet length.
	MaxLength = int(OverrunMarker) - 1

	// USBMaxPacketSize is 1024 payload bytes plus a PID byte and a CRC16.
	USBMaxPacketSize = 1024 + 1 + 2
)

// ErrFrameTooLarge is returned when a payload cannot be length-prefixed.
var ErrFrameTooLarge = errors.New("framing: payload exceeds maximum frame length")

// FrameSize returns the number of stream bytes a payload of n bytes occupies.
func FrameSize(n int) int { return HeaderSize + n }

// AppendFrame appends the encoded frame for payload to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxLength {
		return dst, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	dst = append(dst, byte(len(payload)>>8), byte(len(payload)))
	return append(dst, payload...), nil
}

// AppendOverrunMarker appends the overrun marker to dst.
func AppendOverrunMarker(dst []byte) []byte {
	return append(dst, MarkerByte, MarkerByte)
}

// AppendEncoded appends the wire form of f to dst.
func AppendEncoded(dst []byte, f core.Frame) ([]byte, error) {
	if f.Overrun() {
		return AppendOverrunMarker(dst), nil
	}
	return AppendFrame(dst, f.Data())
}

type decodeState int

const (
	stateLengthHigh decodeState = iota
	stateLengthLow
	statePayload
)

// Decoder incrementally rebuilds frames from the output byte stream.
type Decoder struct {
	state  decodeState
	length int
	buf    []byte

	frames  uint64
	markers uint64
}

// NewDecoder returns a decoder positioned at a frame boundary.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes one stream byte. It returns the completed frame when b is
// the last byte of one.
func (d *Decoder) Feed(b byte) (core.Frame, bool) {
	switch d.state {
	case stateLengthHigh:
		d.length = int(b) << 8
		d.state = stateLengthLow
		return nil, false
	case stateLengthLow:
		d.length |= int(b)
		if uint16(d.length) == OverrunMarker {
			d.state = stateLengthHigh
			d.markers++
			return core.NewOverrunFrame(), true
		}
		if d.length == 0 {
			d.state = stateLengthHigh
			d.frames++
			return core.NewFrame(nil), true
		}
		d.buf = make([]byte, 0, d.length)
		d.state = statePayload
		return nil, false
	default:
		d.buf = append(d.buf, b)
		if len(d.buf) < d.length {
			return nil, false
		}
		f := core.NewFrame(d.buf)
		d.buf = nil
		d.state = stateLengthHigh
		d.frames++
		return f, true
	}
}

// Write feeds p through the decoder and calls emit for every completed
// frame. Decoding stops at the first emit error.
func (d *Decoder) Write(p []byte, emit func(core.Frame) error) (int, error) {
	for i, b := range p {
		if f, ok := d.Feed(b); ok {
			if err := emit(f); err != nil {
				return i + 1, err
			}
		}
	}
	return len(p), nil
}

// AtBoundary reports whether the decoder is between frames.
func (d *Decoder) AtBoundary() bool { return d.state == stateLengthHigh }

// Pending returns how many more bytes complete the current frame. It is zero
// at a boundary.
func (d *Decoder) Pending() int {
	switch d.state {
	case stateLengthHigh:
		return 0
	case stateLengthLow:
		return 1
	default:
		return d.length - len(d.buf)
	}
}

// Frames returns the number of packet frames decoded.
func (d *Decoder) Frames() uint64 { return d.frames }

// Markers returns the number of overrun markers decoded.
func (d *Decoder) Markers() uint64 { return d.markers }

// DecodeAll splits a byte stream into frames. rest holds a trailing partial
// frame, if any.
func DecodeAll(stream []byte) (frames []core.Frame, rest []byte) {
	d := NewDecoder()
	start := 0
	for i, b := range stream {
		if f, ok := d.Feed(b); ok {
			frames = append(frames, f)
			start = i + 1
		}
	}
	return frames, stream[start:]
}
