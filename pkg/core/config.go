package core

// EngineConfig contains configuration for the capture engine.
type EngineConfig struct {
	// StagingCapacity is the packet staging buffer size in bytes. It should
	// cover the largest expected packet plus margin.
	StagingCapacity int `json:"staging_capacity" yaml:"stagingCapacity"`

	// LengthQueueDepth is the number of completed packets that may wait for
	// transfer.
	LengthQueueDepth int `json:"length_queue_depth" yaml:"lengthQueueDepth"`

	// RingCapacity is the output ring buffer size in bytes. It bounds how much
	// captured history survives a slow consumer.
	RingCapacity int `json:"ring_capacity" yaml:"ringCapacity"`

	// MaxPacketSize is the largest packet, in bytes, that is counted. Longer
	// packets are marked invalid.
	MaxPacketSize int `json:"max_packet_size" yaml:"maxPacketSize"`

	// StartEnabled arms capture as soon as the engine is created.
	StartEnabled bool `json:"start_enabled" yaml:"startEnabled"`
}

// SinkConfig contains configuration for the output side.
type SinkConfig struct {
	// PcapPath, if set, exports captured frames to a pcap file.
	PcapPath string `json:"pcap_path" yaml:"pcapPath"`

	// SnapLen is the snapshot length written to the pcap header.
	SnapLen int `json:"snap_len" yaml:"snapLen"`

	// ListenAddr, if set, serves the framed byte stream over TCP.
	ListenAddr string `json:"listen_addr" yaml:"listenAddr"`

	// DrainIntervalMicros is the consumer poll interval when the stream is empty.
	DrainIntervalMicros int `json:"drain_interval_micros" yaml:"drainIntervalMicros"`
}
