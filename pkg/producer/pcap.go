package producer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/logging"
)

// PcapReplay replays the packets of a pcap capture as producer samples.
type PcapReplay struct {
	reader *pcapgo.Reader
	closer io.Closer
	limit  int

	cur    cursor
	loaded bool

	metrics core.ProducerMetrics
}

var _ core.Producer = (*PcapReplay)(nil)

// NewPcapReplay reads a pcap stream from r. Each packet is followed by gap
// idle samples. A positive limit stops the replay after that many packets.
func NewPcapReplay(r io.Reader, gap, limit int) (*PcapReplay, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("producer: read pcap header: %w", err)
	}
	return &PcapReplay{
		reader: reader,
		limit:  limit,
		cur:    newCursor(gap),
		loaded: true,
	}, nil
}

// OpenPcapReplay opens a pcap file for replay.
func OpenPcapReplay(path string, gap, limit int) (*PcapReplay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("producer: open %s: %w", path, err)
	}
	p, err := NewPcapReplay(f, gap, limit)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.closer = f
	logging.Component("producer").WithField("path", path).Infof("Replaying pcap, link type %s", p.LinkType())
	return p, nil
}

// LinkType returns the link type declared in the pcap header.
func (p *PcapReplay) LinkType() layers.LinkType { return p.reader.LinkType() }

// Next implements core.Producer.
func (p *PcapReplay) Next() (core.Sample, error) {
	for {
		if p.loaded {
			if s, ok := p.cur.next(); ok {
				p.metrics.Samples++
				return s, nil
			}
			p.loaded = false
		}

		if p.limit > 0 && int(p.metrics.PacketsInjected) >= p.limit {
			return core.Sample{}, io.EOF
		}
		data, _, err := p.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return core.Sample{}, io.EOF
			}
			p.metrics.Errors++
			return core.Sample{}, fmt.Errorf("producer: read pcap packet: %w", err)
		}
		p.metrics.PacketsInjected++
		p.metrics.BytesInjected += uint64(len(data))
		p.cur.load(data)
		p.loaded = true
	}
}

// Metrics returns metrics for the replay.
func (p *PcapReplay) Metrics() core.ProducerMetrics { return p.metrics }

// Close closes the underlying file, if the replay opened one.
func (p *PcapReplay) Close() error {
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}
