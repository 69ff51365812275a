package core

// Sample is the state of the producer interface for one step.
type Sample struct {
	// Active is asserted while a packet is in progress.
	Active bool

	// Valid is asserted when Data carries a usable byte. Only meaningful
	// while Active is asserted.
	Valid bool

	// Data is the byte presented this step.
	Data byte
}

// IdleSample is the producer state between packets.
var IdleSample = Sample{}

// ByteSample returns an active sample carrying a valid byte.
func ByteSample(b byte) Sample {
	return Sample{Active: true, Valid: true, Data: b}
}

// Producer supplies one Sample per step. It returns io.EOF once the stream
// has ended; the sample returned alongside an error is ignored.
type Producer interface {
	Next() (Sample, error)
}

// ProducerMetrics contains metrics for a producer
type ProducerMetrics struct {
	// PacketsInjected is the number of packets queued for emission
	PacketsInjected uint64

	// BytesInjected is the number of packet bytes queued for emission
	BytesInjected uint64

	// Samples is the number of samples emitted
	Samples uint64

	// Errors is the number of errors encountered
	Errors uint64
}
