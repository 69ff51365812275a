package capture

import (
	"github.com/irctrakz/wirecap/pkg/core"
)

// stepCapture advances the capture machine by one producer sample. It never
// waits on the transfer side.
func (e *Engine) stepCapture(s core.Sample) {
	switch e.CaptureState() {
	case AwaitStart:
		e.flushLoss()
		if !s.Active && e.enabled.Load() {
			e.setCaptureState(AwaitPacket)
		}

	case AwaitPacket:
		e.flushLoss()
		if !e.enabled.Load() {
			e.clearOverrun()
			e.setCaptureState(AwaitStart)
			return
		}
		if s.Active {
			e.beginPacket()
			e.setCaptureState(CapturePacket)
			// The sample that raised active is part of the packet.
			e.capturePacket(s)
		}

	case CapturePacket:
		e.capturePacket(s)
	}
}

func (e *Engine) setCaptureState(s CaptureState) {
	e.captureState.Store(int32(s))
}

func (e *Engine) beginPacket() {
	e.capLength = 0
	e.capValid = e.staging.HasRoom()
	e.capRecordable = !e.pendingLoss.Load() && e.lengths.HasRoom()
	if !e.capRecordable {
		// No record can be committed for this packet, so none of it is
		// staged. A single invalid record is queued once there is room.
		e.stats.unrecordedPackets.Inc()
		e.pendingLoss.Store(true)
		e.setOverrun("length queue full")
	}
}

func (e *Engine) capturePacket(s core.Sample) {
	if !s.Active {
		e.commitPacket()
		e.setCaptureState(AwaitPacket)
		return
	}
	if !s.Valid {
		return
	}
	if !e.capRecordable {
		e.stats.bytesDropped.Inc()
		return
	}
	if e.capLength < e.cfg.MaxPacketSize && e.staging.Push(s.Data) {
		e.capLength++
		e.stats.bytesCaptured.Inc()
		return
	}
	e.stats.bytesDropped.Inc()
	if e.capValid {
		e.capValid = false
		e.stats.stagingOverruns.Inc()
	}
}

func (e *Engine) commitPacket() {
	if !e.capRecordable {
		return
	}
	// Room was reserved when the packet started; only this machine pushes.
	e.lengths.Push(core.LengthRecord{
		Length:  uint16(e.capLength),
		Invalid: !e.capValid,
	})
	e.stats.packetsCaptured.Inc()
}

// flushLoss queues the record standing in for packets that could not be
// recorded.
func (e *Engine) flushLoss() {
	if !e.pendingLoss.Load() {
		return
	}
	if e.lengths.Push(core.LengthRecord{Invalid: true}) {
		e.pendingLoss.Store(false)
		e.log.Warnf("Length queue recovered after %d unrecorded packets", e.stats.unrecordedPackets.Load())
	}
}
