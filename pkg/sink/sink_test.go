package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/wirecap/pkg/capture"
	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/framing"
	"github.com/irctrakz/wirecap/pkg/producer"
)

type recorder struct {
	frames []core.Frame
	err    error
}

func (r *recorder) HandleFrame(f core.Frame) error {
	r.frames = append(r.frames, f)
	return r.err
}

func tickEngine(t *testing.T, ringCap int, packets ...[]byte) *capture.Engine {
	t.Helper()
	e, err := capture.New(core.EngineConfig{
		StagingCapacity:  4096,
		LengthQueueDepth: 64,
		RingCapacity:     ringCap,
		MaxPacketSize:    framing.USBMaxPacketSize,
		StartEnabled:     true,
	})
	require.NoError(t, err)

	s := producer.NewScript()
	for _, p := range packets {
		s.AddPacket(p)
	}
	for {
		smp, err := s.Next()
		if err == io.EOF {
			break
		}
		e.Tick(smp)
	}
	for i := 0; i < 1<<16 && !e.Quiescent(); i++ {
		e.Tick(core.IdleSample)
	}
	require.True(t, e.Quiescent())
	return e
}

func TestPumpDrainOnce(t *testing.T) {
	e := tickEngine(t, 16, []byte{1, 2, 3}, make([]byte, 20), []byte{4})

	rec := &recorder{}
	p := NewPump(e.Output(), rec, 0)
	assert.Equal(t, 5+2+3, p.DrainOnce())
	assert.True(t, p.AtBoundary())

	require.Len(t, rec.frames, 3)
	assert.Equal(t, []byte{1, 2, 3}, rec.frames[0].Data())
	assert.True(t, rec.frames[1].Overrun())
	assert.Equal(t, []byte{4}, rec.frames[2].Data())

	m := p.Metrics()
	assert.Equal(t, uint64(10), m.Bytes)
	assert.Equal(t, uint64(2), m.Frames)
	assert.Equal(t, uint64(1), m.Markers)
	assert.Zero(t, p.DrainOnce())
}

func TestPumpHandlerErrors(t *testing.T) {
	e := tickEngine(t, 64, []byte{1}, []byte{2})

	rec := &recorder{err: errors.New("rejected")}
	p := NewPump(e.Output(), rec, 0)
	p.DrainOnce()
	assert.Len(t, rec.frames, 2)
	assert.Equal(t, uint64(2), p.Metrics().HandlerErrors)
}

func TestPumpRun(t *testing.T) {
	cfg := capture.DefaultConfig()
	cfg.StartEnabled = true
	e, err := capture.New(cfg)
	require.NoError(t, err)

	s := producer.NewScript()
	for i := 0; i < 100; i++ {
		s.AddPacket([]byte{byte(i), 0xaa})
	}

	rec := &recorder{}
	p := NewPump(e.Output(), rec, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.NoError(t, e.Run(context.Background(), s))
	cancel()
	require.NoError(t, <-done)

	require.Len(t, rec.frames, 100)
	for i, f := range rec.frames {
		assert.Equal(t, []byte{byte(i), 0xaa}, f.Data())
	}
}

func TestPcapWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewPcapWriter(&buf, 4)
	require.NoError(t, err)
	ts := time.Unix(1700000000, 0).UTC()
	w.now = func() time.Time { return ts }

	require.NoError(t, w.HandleFrame(core.NewFrame([]byte{0x69, 0x32, 0xc0})))
	require.NoError(t, w.HandleFrame(core.NewOverrunFrame()))
	require.NoError(t, w.HandleFrame(core.NewFrame([]byte{1, 2, 3, 4, 5, 6})))
	require.NoError(t, w.Close())
	assert.Equal(t, uint64(2), w.Packets())
	assert.Equal(t, uint64(1), w.Markers())

	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, LinkTypeCapture, r.LinkType())

	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x69, 0x32, 0xc0}, data)
	assert.True(t, ts.Equal(ci.Timestamp))

	data, ci, err = r.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	assert.Equal(t, 6, ci.Length)

	_, _, err = r.ReadPacketData()
	assert.Equal(t, io.EOF, err)
}

func TestPcapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.pcap")
	w, err := CreatePcapWriter(path, 0)
	require.NoError(t, err)

	e := tickEngine(t, 1024, []byte{0xd2}, []byte{0xc3, 0x80})
	p := NewPump(e.Output(), w, 0)
	p.DrainOnce()
	require.NoError(t, w.Close())

	replay, err := producer.OpenPcapReplay(path, 1, 0)
	require.NoError(t, err)
	defer replay.Close()
	assert.Equal(t, uint64(2), w.Packets())

	var got [][]byte
	var cur []byte
	for {
		s, err := replay.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if s.Active {
			cur = append(cur, s.Data)
		} else if cur != nil {
			got = append(got, cur)
			cur = nil
		}
	}
	assert.Equal(t, [][]byte{{0xd2}, {0xc3, 0x80}}, got)
}

func TestTee(t *testing.T) {
	a, b := &recorder{}, &recorder{err: errors.New("b failed")}
	tee := NewTee(a, nil, b)

	data := []byte{1, 2}
	err := tee.HandleFrame(core.NewFrame(data))
	assert.Error(t, err)
	require.NoError(t, NewTee(a).HandleFrame(core.NewOverrunFrame()))

	require.Len(t, a.frames, 2)
	require.Len(t, b.frames, 1)
	data[0] = 9
	assert.Equal(t, []byte{1, 2}, b.frames[0].Data())
	assert.True(t, a.frames[1].Overrun())
}

func TestStreamServer(t *testing.T) {
	s := NewStreamServer(16)
	require.NoError(t, s.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()

	// Frames without a client are not queued.
	require.NoError(t, s.HandleFrame(core.NewFrame([]byte{0})))

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, s.Connected, 2*time.Second, time.Millisecond)

	require.NoError(t, s.HandleFrame(core.NewFrame([]byte{0x2d, 0x00})))
	require.NoError(t, s.HandleFrame(core.NewOverrunFrame()))
	require.NoError(t, s.HandleFrame(core.NewFrame([]byte{0xd2})))

	want := []byte{0x00, 0x02, 0x2d, 0x00, 0xff, 0xff, 0x00, 0x01, 0xd2}
	got := make([]byte, len(want))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	m := s.Metrics()
	assert.Equal(t, uint64(1), m.Clients)
	assert.Equal(t, uint64(1), m.FramesUnsent)
	assert.Equal(t, uint64(3), m.FramesQueued)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestStreamServerDropsWholeFrames(t *testing.T) {
	s := NewStreamServer(2)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, s.Connected, 2*time.Second, time.Millisecond)

	for i := 0; i < 200; i++ {
		require.NoError(t, s.HandleFrame(core.NewFrame(bytes.Repeat([]byte{byte(i)}, 3))))
	}
	// Let the queue empty so a trailing marker can go out after the last loss.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.HandleFrame(core.NewFrame([]byte{0xee})))

	dec := framing.NewDecoder()
	var frames []core.Frame
	buf := make([]byte, 256)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(frames) == 0 || frames[len(frames)-1].Overrun() || frames[len(frames)-1].Data()[0] != 0xee {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		_, err = dec.Write(buf[:n], func(f core.Frame) error {
			frames = append(frames, f)
			return nil
		})
		require.NoError(t, err)
	}

	assert.True(t, dec.AtBoundary())
	markers := 0
	for _, f := range frames[:len(frames)-1] {
		if f.Overrun() {
			markers++
			continue
		}
		assert.Len(t, f.Data(), 3)
	}
	if s.Metrics().FramesDropped > 0 {
		assert.Greater(t, markers, 0)
	}
}
