// Package metrics exports capture engine metrics: a Prometheus collector and
// a periodic log reporter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/irctrakz/wirecap/pkg/core"
)

const namespace = "wirecap"

type metricDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(m core.EngineMetrics) uint64
}

func counter(name, help string, value func(m core.EngineMetrics) uint64) metricDesc {
	return metricDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", name), help, nil, nil),
		kind:  prometheus.CounterValue,
		value: value,
	}
}

func gauge(name, help string, value func(m core.EngineMetrics) uint64) metricDesc {
	return metricDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", name), help, nil, nil),
		kind:  prometheus.GaugeValue,
		value: value,
	}
}

// Collector is a prometheus.Collector reading an engine on every scrape.
type Collector struct {
	engine  core.Engine
	metrics []metricDesc
	status  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for engine.
func NewCollector(engine core.Engine) *Collector {
	return &Collector{
		engine: engine,
		metrics: []metricDesc{
			counter("packets_captured_total", "Packets committed to the length queue.",
				func(m core.EngineMetrics) uint64 { return m.PacketsCaptured }),
			counter("bytes_captured_total", "Bytes accepted into the staging buffer.",
				func(m core.EngineMetrics) uint64 { return m.BytesCaptured }),
			counter("packets_transferred_total", "Packets framed into the output ring.",
				func(m core.EngineMetrics) uint64 { return m.PacketsTransferred }),
			counter("bytes_transferred_total", "Payload bytes framed into the output ring.",
				func(m core.EngineMetrics) uint64 { return m.BytesTransferred }),
			counter("staging_overruns_total", "Packets that overflowed the staging buffer.",
				func(m core.EngineMetrics) uint64 { return m.StagingOverruns }),
			counter("ring_overruns_total", "Packets rejected for lack of output ring room.",
				func(m core.EngineMetrics) uint64 { return m.RingOverruns }),
			counter("markers_emitted_total", "Overrun markers written to the output ring.",
				func(m core.EngineMetrics) uint64 { return m.MarkersEmitted }),
			counter("bytes_discarded_total", "Staged bytes discarded without transfer.",
				func(m core.EngineMetrics) uint64 { return m.BytesDiscarded }),
			counter("bytes_dropped_total", "Producer bytes that never reached the staging buffer.",
				func(m core.EngineMetrics) uint64 { return m.BytesDropped }),
			counter("unrecorded_packets_total", "Packets lost because the length queue was full.",
				func(m core.EngineMetrics) uint64 { return m.UnrecordedPackets }),
			gauge("staging_level_bytes", "Staging buffer occupancy.",
				func(m core.EngineMetrics) uint64 { return m.StagingLevel }),
			gauge("length_queue_level", "Queued length records.",
				func(m core.EngineMetrics) uint64 { return m.LengthQueueLevel }),
			gauge("ring_level_bytes", "Output ring occupancy.",
				func(m core.EngineMetrics) uint64 { return m.RingLevel }),
		},
		status: prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", "status"),
			"Engine status flags, 1 when set.", []string{"flag"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
	ch <- c.status
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.engine.Metrics()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, float64(m.value(snap)))
	}

	st := c.engine.Status()
	for flag, set := range map[string]bool{
		"enabled":    st.Enabled,
		"idle":       st.Idle,
		"capturing":  st.Capturing,
		"overrun":    st.Overrun,
		"stopped":    st.Stopped,
		"discarding": st.Discarding,
	} {
		ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, boolValue(set), flag)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
