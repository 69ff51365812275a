package capture

import (
	"github.com/irctrakz/wirecap/pkg/framing"
)

// stepTransfer advances the transfer machine by one step. It reports whether
// the step did any work.
func (e *Engine) stepTransfer() bool {
	switch e.TransferState() {
	case Idle:
		if e.lengths.Empty() {
			return false
		}
		e.setTransferState(PopLength)

	case PopLength:
		rec, _ := e.lengths.Pop()
		e.xferLength = int(rec.Length)
		e.xferInvalid = rec.Invalid

		e.setTransferState(InspectPacket)

	case InspectPacket:
		e.xferTransferred = 0
		switch {
		case e.xferInvalid:
			e.setTransferState(Overrun)
		case e.out.Level()+framing.FrameSize(e.xferLength) > e.out.Cap():
			e.stats.ringOverruns.Inc()
			e.setTransferState(Overrun)
		default:
			e.setTransferState(TransferPacket)
		}

	case TransferPacket:
		return e.transferByte()

	case Overrun:
		e.setOverrun(e.overrunReason())
		if e.out.Level()+framing.HeaderSize > e.out.Cap() {
			return false
		}
		e.setTransferState(ClearOverrun)

	case ClearOverrun:
		return e.clearByte()
	}
	return true
}

func (e *Engine) setTransferState(s TransferState) {
	e.transferState.Store(int32(s))
}

func (e *Engine) overrunReason() string {
	if e.xferInvalid {
		return "staging overrun"
	}
	return "output ring full"
}

// transferByte writes the next byte of the current frame. Room for the whole
// frame was checked on admission and only the consumer frees space, so
// pushes cannot fail here.
func (e *Engine) transferByte() bool {
	var b byte
	switch e.xferTransferred {
	case 0:
		b = byte(e.xferLength >> 8)
	case 1:
		b = byte(e.xferLength)
	default:
		v, ok := e.staging.Peek()
		if !ok {
			return false
		}
		b = v
	}
	if !e.out.Push(b) {
		return false
	}
	if e.xferTransferred >= framing.HeaderSize {
		e.staging.Pop()
		e.stats.bytesTransferred.Inc()
	}
	e.xferTransferred++

	if e.xferTransferred == framing.FrameSize(e.xferLength) {
		e.stats.packetsTransferred.Inc()
		e.setTransferState(Idle)
	}
	return true
}

// clearByte writes the overrun marker, then discards the packet's staged
// bytes one per step.
func (e *Engine) clearByte() bool {
	if e.xferTransferred < framing.HeaderSize {
		if !e.out.Push(framing.MarkerByte) {
			return false
		}
		e.xferTransferred++
		if e.xferTransferred == framing.HeaderSize {
			e.stats.markersEmitted.Inc()
		}
	} else {
		if e.staging.Discard(1) == 0 {
			return false
		}
		e.xferTransferred++
		e.stats.bytesDiscarded.Inc()
	}

	if e.xferTransferred >= framing.FrameSize(e.xferLength) {
		e.setTransferState(Idle)
	}
	return true
}
