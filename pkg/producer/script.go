// Package producer provides sample sources for the capture engine.
package producer

import (
	"errors"
	"io"

	"github.com/irctrakz/wirecap/pkg/core"
)

// ErrClosed is returned when injecting into a closed producer.
var ErrClosed = errors.New("producer: closed")

// Script is a deterministic producer that replays a prepared sample sequence.
// It is built up front and then read by a single goroutine.
type Script struct {
	samples []core.Sample
	pos     int
	gap     int

	metrics core.ProducerMetrics
}

var _ core.Producer = (*Script)(nil)

// NewScript returns an empty script. The first sample is idle so an armed
// engine can leave its start state before the first packet.
func NewScript() *Script {
	return &Script{
		samples: []core.Sample{core.IdleSample},
		gap:     DefaultGap,
	}
}

// SetGap sets the number of idle samples appended after each packet.
func (s *Script) SetGap(n int) *Script {
	if n < 1 {
		n = DefaultGap
	}
	s.gap = n
	return s
}

// AddPacket appends a packet followed by the inter-packet gap.
func (s *Script) AddPacket(data []byte) *Script {
	c := newCursor(s.gap)
	c.load(data)
	for {
		smp, ok := c.next()
		if !ok {
			break
		}
		s.samples = append(s.samples, smp)
	}
	s.metrics.PacketsInjected++
	s.metrics.BytesInjected += uint64(len(data))
	return s
}

// AddStrobedPacket appends a packet with an invalid-byte strobe after every
// n valid bytes, as a transceiver does while stuffing bits.
func (s *Script) AddStrobedPacket(data []byte, n int) *Script {
	if n <= 0 {
		return s.AddPacket(data)
	}
	for i, b := range data {
		s.samples = append(s.samples, core.ByteSample(b))
		if (i+1)%n == 0 {
			s.samples = append(s.samples, core.Sample{Active: true, Data: b})
		}
	}
	if len(data) == 0 {
		s.samples = append(s.samples, core.Sample{Active: true})
	}
	s.AddIdle(s.gap)
	s.metrics.PacketsInjected++
	s.metrics.BytesInjected += uint64(len(data))
	return s
}

// AddIdle appends n idle samples.
func (s *Script) AddIdle(n int) *Script {
	for i := 0; i < n; i++ {
		s.samples = append(s.samples, core.IdleSample)
	}
	return s
}

// AddSamples appends raw samples.
func (s *Script) AddSamples(samples ...core.Sample) *Script {
	s.samples = append(s.samples, samples...)
	return s
}

// Next implements core.Producer.
func (s *Script) Next() (core.Sample, error) {
	if s.pos >= len(s.samples) {
		return core.Sample{}, io.EOF
	}
	smp := s.samples[s.pos]
	s.pos++
	s.metrics.Samples++
	return smp, nil
}

// Len returns the total number of samples in the script.
func (s *Script) Len() int { return len(s.samples) }

// Remaining returns the number of samples not yet read.
func (s *Script) Remaining() int { return len(s.samples) - s.pos }

// Reset rewinds the script to its first sample.
func (s *Script) Reset() {
	s.pos = 0
	s.metrics.Samples = 0
}

// Metrics returns metrics for the script.
func (s *Script) Metrics() core.ProducerMetrics { return s.metrics }
