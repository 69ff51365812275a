package framing

import (
	"errors"
	"testing"

	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendFrame(t *testing.T) {
	out, err := AppendFrame(nil, []byte{0x2d, 0x00, 0x10})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x03, 0x2d, 0x00, 0x10}, out)

	big := make([]byte, 0x0123)
	out, err = AppendFrame(nil, big)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), out[0])
	assert.Equal(t, byte(0x23), out[1])
	assert.Len(t, out, FrameSize(len(big)))

	assert.Equal(t, []byte{0xff, 0xff}, AppendOverrunMarker(nil))
}

func TestAppendFrameTooLarge(t *testing.T) {
	_, err := AppendFrame(nil, make([]byte, MaxLength+1))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))

	_, err = AppendFrame(nil, make([]byte, MaxLength))
	assert.NoError(t, err)
}

func TestDecodeAll(t *testing.T) {
	var stream []byte
	stream, _ = AppendFrame(stream, []byte{0xd2})
	stream = AppendOverrunMarker(stream)
	stream, _ = AppendFrame(stream, nil)
	stream, _ = AppendFrame(stream, []byte{0x69, 0x32, 0xc0})
	stream = append(stream, 0x00, 0x05, 0xaa)

	frames, rest := DecodeAll(stream)
	require.Len(t, frames, 4)
	assert.Equal(t, []byte{0xd2}, frames[0].Data())
	assert.True(t, frames[1].Overrun())
	assert.False(t, frames[2].Overrun())
	assert.Equal(t, 0, frames[2].Length())
	assert.Equal(t, []byte{0x69, 0x32, 0xc0}, frames[3].Data())
	assert.Equal(t, []byte{0x00, 0x05, 0xaa}, rest)
}

func TestDecoderByteAtATime(t *testing.T) {
	payload := []byte{0xc3, 0x80, 0x06, 0x00, 0x03}
	stream, _ := AppendFrame(nil, payload)

	d := NewDecoder()
	assert.True(t, d.AtBoundary())
	for i, b := range stream[:len(stream)-1] {
		_, ok := d.Feed(b)
		assert.False(t, ok, "byte %d", i)
		assert.False(t, d.AtBoundary())
	}
	assert.Equal(t, 1, d.Pending())
	f, ok := d.Feed(stream[len(stream)-1])
	require.True(t, ok)
	assert.Equal(t, payload, f.Data())
	assert.True(t, d.AtBoundary())
	assert.Equal(t, uint64(1), d.Frames())
	assert.Equal(t, uint64(0), d.Markers())
}

func TestDecoderWrite(t *testing.T) {
	var stream []byte
	stream = AppendOverrunMarker(stream)
	stream, _ = AppendFrame(stream, []byte{1, 2})

	d := NewDecoder()
	var got []core.Frame
	n, err := d.Write(stream, func(f core.Frame) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(stream), n)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), d.Markers())

	stop := errors.New("stop")
	d = NewDecoder()
	n, err = d.Write(stream, func(core.Frame) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, n)
}

func TestAppendEncoded(t *testing.T) {
	out, err := AppendEncoded(nil, core.NewOverrunFrame())
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff}, out)

	out, err = AppendEncoded(out, core.NewFrame([]byte{0x5a}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff, 0x00, 0x01, 0x5a}, out)
}
