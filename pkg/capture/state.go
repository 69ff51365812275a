package capture

// CaptureState is a state of the capture state machine.
type CaptureState int32

const (
	// AwaitStart waits for the producer to be between packets with capture enabled.
	AwaitStart CaptureState = iota
	// AwaitPacket waits for the start of the next packet.
	AwaitPacket
	// CapturePacket stages bytes until the packet ends.
	CapturePacket
)

func (s CaptureState) String() string {
	switch s {
	case AwaitStart:
		return "await_start"
	case AwaitPacket:
		return "await_packet"
	case CapturePacket:
		return "capture_packet"
	}
	return "unknown"
}

// TransferState is a state of the transfer state machine.
type TransferState int32

const (
	// Idle waits for a queued length record.
	Idle TransferState = iota
	// PopLength takes the next length record.
	PopLength
	// InspectPacket decides whether the packet fits the output ring.
	InspectPacket
	// TransferPacket writes the length prefix and payload.
	TransferPacket
	// Overrun waits for room for a marker.
	Overrun
	// ClearOverrun writes the marker and discards the staged packet.
	ClearOverrun
)

func (s TransferState) String() string {
	switch s {
	case Idle:
		return "idle"
	case PopLength:
		return "pop_length"
	case InspectPacket:
		return "inspect_packet"
	case TransferPacket:
		return "transfer_packet"
	case Overrun:
		return "overrun"
	case ClearOverrun:
		return "clear_overrun"
	}
	return "unknown"
}
