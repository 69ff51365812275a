package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/logging"
)

// DefaultInterval is the default reporting interval.
const DefaultInterval = 30 * time.Second

// Snapshot is one periodic metrics report.
type Snapshot struct {
	Timestamp string            `json:"ts"`
	Engine    map[string]uint64 `json:"engine"`
	Status    core.Status       `json:"status"`
	Rate      map[string]uint64 `json:"rate"`
	RT        map[string]uint64 `json:"rt"`
}

// Reporter logs engine metrics at a fixed interval.
type Reporter struct {
	engine   core.Engine
	interval time.Duration
	format   string

	last     core.EngineMetrics
	lastTime time.Time
}

// NewReporter creates a reporter. format is "text" or "json".
func NewReporter(engine core.Engine, interval time.Duration, format string) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "json" {
		format = "text"
	}
	return &Reporter{engine: engine, interval: interval, format: format}
}

// Run reports until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		logging.Infof("metrics: %s", r.Format(r.Snapshot(time.Now())))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Snapshot takes a report at now. Rates are per second since the previous
// snapshot.
func (r *Reporter) Snapshot(now time.Time) Snapshot {
	m := r.engine.Metrics()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	rate := map[string]uint64{}
	if !r.lastTime.IsZero() {
		if secs := now.Sub(r.lastTime).Seconds(); secs > 0 {
			rate["bytes_captured"] = uint64(float64(m.BytesCaptured-r.last.BytesCaptured) / secs)
			rate["packets_transferred"] = uint64(float64(m.PacketsTransferred-r.last.PacketsTransferred) / secs)
			rate["markers"] = uint64(float64(m.MarkersEmitted-r.last.MarkersEmitted) / secs)
		}
	}
	r.last = m
	r.lastTime = now

	return Snapshot{
		Timestamp: now.UTC().Format(time.RFC3339),
		Engine: map[string]uint64{
			"pkts_captured":  m.PacketsCaptured,
			"bytes_captured": m.BytesCaptured,
			"pkts_xfer":      m.PacketsTransferred,
			"bytes_xfer":     m.BytesTransferred,
			"staging_ovr":    m.StagingOverruns,
			"ring_ovr":       m.RingOverruns,
			"markers":        m.MarkersEmitted,
			"discarded":      m.BytesDiscarded,
			"dropped":        m.BytesDropped,
			"unrecorded":     m.UnrecordedPackets,
			"staging_lvl":    m.StagingLevel,
			"lenq_lvl":       m.LengthQueueLevel,
			"ring_lvl":       m.RingLevel,
		},
		Status: r.engine.Status(),
		Rate:   rate,
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
	}
}

// Format renders a snapshot in the reporter's format.
func (r *Reporter) Format(s Snapshot) string {
	if r.format == "json" {
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprintf("marshal failed: %v", err)
		}
		return string(b)
	}
	e := s.Engine
	return fmt.Sprintf("ts=%s capture: pkts=%d bytes=%d | xfer: pkts=%d bytes=%d | loss: staging=%d ring=%d markers=%d discarded=%d dropped=%d unrec=%d | lvl: staging=%d lenq=%d ring=%d | state: %s/%s ovr=%t | rate: bps=%d pps=%d mps=%d | rt: heap=%dMi gor=%d gc=%d",
		s.Timestamp,
		e["pkts_captured"], e["bytes_captured"],
		e["pkts_xfer"], e["bytes_xfer"],
		e["staging_ovr"], e["ring_ovr"], e["markers"], e["discarded"], e["dropped"], e["unrecorded"],
		e["staging_lvl"], e["lenq_lvl"], e["ring_lvl"],
		s.Status.CaptureState, s.Status.TransferState, s.Status.Overrun,
		s.Rate["bytes_captured"], s.Rate["packets_transferred"], s.Rate["markers"],
		s.RT["heap_alloc"]/(1024*1024), s.RT["goroutines"], s.RT["num_gc"],
	)
}
