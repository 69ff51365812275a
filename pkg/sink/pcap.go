package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/logging"
)

const (
	// LinkTypeCapture is the pcap link type of exported packets (DLT_USER0).
	LinkTypeCapture = layers.LinkType(147)

	// DefaultSnapLen is the snapshot length written when none is configured.
	DefaultSnapLen = 65535
)

// PcapWriter writes captured frames to a pcap stream. Overrun markers carry
// no packet, so they are counted rather than written.
type PcapWriter struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	buf     *bufio.Writer
	closer  io.Closer
	snapLen int
	now     func() time.Time

	packets uint64
	bytes   uint64
	markers uint64
}

// NewPcapWriter writes a pcap file header to w and returns the writer.
func NewPcapWriter(w io.Writer, snapLen int) (*PcapWriter, error) {
	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	buf := bufio.NewWriter(w)
	pw := pcapgo.NewWriter(buf)
	if err := pw.WriteFileHeader(uint32(snapLen), LinkTypeCapture); err != nil {
		return nil, fmt.Errorf("sink: write pcap header: %w", err)
	}
	return &PcapWriter{
		w:       pw,
		buf:     buf,
		snapLen: snapLen,
		now:     time.Now,
	}, nil
}

// CreatePcapWriter creates the pcap file at path.
func CreatePcapWriter(path string, snapLen int) (*PcapWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", path, err)
	}
	pw, err := NewPcapWriter(f, snapLen)
	if err != nil {
		f.Close()
		return nil, err
	}
	pw.closer = f
	logging.Component("sink").WithField("path", path).Infof("Writing captured packets to pcap")
	return pw, nil
}

// HandleFrame implements core.FrameHandler.
func (p *PcapWriter) HandleFrame(f core.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f.Overrun() {
		p.markers++
		return nil
	}
	data := f.Data()
	captured := data
	if len(captured) > p.snapLen {
		captured = captured[:p.snapLen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     p.now(),
		CaptureLength: len(captured),
		Length:        len(data),
	}
	if err := p.w.WritePacket(ci, captured); err != nil {
		return fmt.Errorf("sink: write pcap packet: %w", err)
	}
	p.packets++
	p.bytes += uint64(len(data))
	return nil
}

// Flush writes buffered packets to the underlying writer.
func (p *PcapWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Flush()
}

// Close flushes and closes the file, if the writer created one.
func (p *PcapWriter) Close() error {
	if err := p.Flush(); err != nil {
		return err
	}
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	logging.Component("sink").Infof("Pcap closed: %d packets, %d markers", p.Packets(), p.Markers())
	return err
}

// Packets returns the number of packets written.
func (p *PcapWriter) Packets() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packets
}

// Markers returns the number of overrun markers seen.
func (p *PcapWriter) Markers() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.markers
}
