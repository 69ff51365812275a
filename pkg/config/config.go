// Package config provides configuration handling for the capture engine and
// its surrounding producer, sinks, metrics and logging.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/irctrakz/wirecap/pkg/capture"
	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/logging"
)

// EnvPrefix prefixes every environment variable bound by BindEnv.
const EnvPrefix = "WIRECAP_"

// Config represents the complete configuration.
type Config struct {
	// Engine contains the capture engine configuration.
	Engine core.EngineConfig `json:"engine" yaml:"engine"`

	// Producer contains the live producer configuration.
	Producer ProducerConfig `json:"producer" yaml:"producer"`

	// Sink contains the output configuration.
	Sink core.SinkConfig `json:"sink" yaml:"sink"`

	// Metrics contains the metrics configuration.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Debug copies frame data on construction and on access.
	Debug bool `json:"debug" yaml:"debug"`
}

// ProducerConfig contains configuration for the live producer.
type ProducerConfig struct {
	// IngestAddr is the UDP address whose datagrams are captured as packets.
	IngestAddr string `json:"ingest_addr" yaml:"ingestAddr"`

	// QueueDepth is the number of packets buffered ahead of the engine.
	QueueDepth int `json:"queue_depth" yaml:"queueDepth"`

	// IdleMicros is the longest wait before an idle step is reported.
	IdleMicros int `json:"idle_micros" yaml:"idleMicros"`
}

// MetricsConfig contains configuration for metrics export.
type MetricsConfig struct {
	// ListenAddr serves /metrics and /health over HTTP when set.
	ListenAddr string `json:"listen_addr" yaml:"listenAddr"`

	// Interval is the log reporter interval, e.g. "30s". Empty disables it.
	Interval string `json:"interval" yaml:"interval"`

	// Format is the log reporter format, "text" or "json".
	Format string `json:"format" yaml:"format"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	engine := capture.DefaultConfig()
	engine.StartEnabled = true
	return &Config{
		Engine: engine,
		Producer: ProducerConfig{
			IngestAddr: "127.0.0.1:7700",
			QueueDepth: 1024,
			IdleMicros: 1000,
		},
		Sink: core.SinkConfig{
			SnapLen:             65535,
			ListenAddr:          "127.0.0.1:7701",
			DrainIntervalMicros: 50,
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9108",
			Interval:   "30s",
			Format:     "text",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Determine file format based on extension
	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// Setting keys. Flags bound to a key on the same viper instance take
// precedence over its environment variable.
const (
	KeyStagingCapacity     = "engine.staging_capacity"
	KeyLengthQueueDepth    = "engine.length_queue_depth"
	KeyRingCapacity        = "engine.ring_capacity"
	KeyMaxPacketSize       = "engine.max_packet_size"
	KeyStartEnabled        = "engine.start_enabled"
	KeyIngestAddr          = "producer.ingest_addr"
	KeyProducerQueueDepth  = "producer.queue_depth"
	KeyProducerIdleMicros  = "producer.idle_micros"
	KeyPcapPath            = "sink.pcap_path"
	KeySnapLen             = "sink.snap_len"
	KeyStreamAddr          = "sink.listen_addr"
	KeyDrainIntervalMicros = "sink.drain_interval_micros"
	KeyMetricsAddr         = "metrics.listen_addr"
	KeyMetricsInterval     = "metrics.interval"
	KeyMetricsFormat       = "metrics.format"
	KeyLoggingLevel        = "logging.level"
	KeyLoggingFile         = "logging.file"
	KeyLoggingMaxSize      = "logging.max_size"
	KeyLoggingMaxBackups   = "logging.max_backups"
	KeyLoggingMaxAge       = "logging.max_age"
	KeyDebug               = "debug"
)

// setting ties a key to its environment variable and its Config field.
type setting struct {
	key   string
	env   string
	apply func(c *Config, value interface{}) error
}

func intSetting(key, env string, field func(c *Config) *int) setting {
	return setting{key: key, env: env, apply: func(c *Config, value interface{}) error {
		n, err := cast.ToIntE(value)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}}
}

func stringSetting(key, env string, field func(c *Config) *string) setting {
	return setting{key: key, env: env, apply: func(c *Config, value interface{}) error {
		str, err := cast.ToStringE(value)
		if err != nil {
			return err
		}
		*field(c) = str
		return nil
	}}
}

func boolSetting(key, env string, field func(c *Config) *bool) setting {
	return setting{key: key, env: env, apply: func(c *Config, value interface{}) error {
		b, err := cast.ToBoolE(value)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}}
}

var settings = []setting{
	intSetting(KeyStagingCapacity, "STAGING_CAPACITY", func(c *Config) *int { return &c.Engine.StagingCapacity }),
	intSetting(KeyLengthQueueDepth, "LENGTH_QUEUE_DEPTH", func(c *Config) *int { return &c.Engine.LengthQueueDepth }),
	intSetting(KeyRingCapacity, "RING_CAPACITY", func(c *Config) *int { return &c.Engine.RingCapacity }),
	intSetting(KeyMaxPacketSize, "MAX_PACKET_SIZE", func(c *Config) *int { return &c.Engine.MaxPacketSize }),
	boolSetting(KeyStartEnabled, "START_ENABLED", func(c *Config) *bool { return &c.Engine.StartEnabled }),

	stringSetting(KeyIngestAddr, "INGEST_ADDR", func(c *Config) *string { return &c.Producer.IngestAddr }),
	intSetting(KeyProducerQueueDepth, "PRODUCER_QUEUE_DEPTH", func(c *Config) *int { return &c.Producer.QueueDepth }),
	intSetting(KeyProducerIdleMicros, "PRODUCER_IDLE_MICROS", func(c *Config) *int { return &c.Producer.IdleMicros }),

	stringSetting(KeyPcapPath, "PCAP_PATH", func(c *Config) *string { return &c.Sink.PcapPath }),
	intSetting(KeySnapLen, "SNAP_LEN", func(c *Config) *int { return &c.Sink.SnapLen }),
	stringSetting(KeyStreamAddr, "STREAM_ADDR", func(c *Config) *string { return &c.Sink.ListenAddr }),
	intSetting(KeyDrainIntervalMicros, "DRAIN_INTERVAL_MICROS", func(c *Config) *int { return &c.Sink.DrainIntervalMicros }),

	stringSetting(KeyMetricsAddr, "METRICS_ADDR", func(c *Config) *string { return &c.Metrics.ListenAddr }),
	stringSetting(KeyMetricsInterval, "METRICS_INTERVAL", func(c *Config) *string { return &c.Metrics.Interval }),
	stringSetting(KeyMetricsFormat, "METRICS_FORMAT", func(c *Config) *string { return &c.Metrics.Format }),

	stringSetting(KeyLoggingLevel, "LOGGING_LEVEL", func(c *Config) *string { return &c.Logging.Level }),
	stringSetting(KeyLoggingFile, "LOGGING_FILE", func(c *Config) *string { return &c.Logging.File }),
	intSetting(KeyLoggingMaxSize, "LOGGING_MAX_SIZE", func(c *Config) *int { return &c.Logging.MaxSize }),
	intSetting(KeyLoggingMaxBackups, "LOGGING_MAX_BACKUPS", func(c *Config) *int { return &c.Logging.MaxBackups }),
	intSetting(KeyLoggingMaxAge, "LOGGING_MAX_AGE", func(c *Config) *int { return &c.Logging.MaxAge }),

	boolSetting(KeyDebug, "DEBUG", func(c *Config) *bool { return &c.Debug }),
}

// BindEnv binds the WIRECAP_* environment variable of every setting on v.
func BindEnv(v *viper.Viper) error {
	for _, s := range settings {
		if err := v.BindEnv(s.key, EnvPrefix+s.env); err != nil {
			return fmt.Errorf("bind %s: %w", s.key, err)
		}
	}
	return nil
}

// Apply copies every setting v has a value for into c. Values that are
// present but malformed are reported, not skipped.
func (c *Config) Apply(v *viper.Viper) error {
	for _, s := range settings {
		if !v.IsSet(s.key) {
			continue
		}
		if err := s.apply(c, v.Get(s.key)); err != nil {
			return fmt.Errorf("invalid %s (%s%s): %w", s.key, EnvPrefix, s.env, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from WIRECAP_* environment variables.
func LoadFromEnv(config *Config) error {
	v := viper.New()
	if err := BindEnv(v); err != nil {
		return err
	}
	return config.Apply(v)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := capture.Validate(c.Engine); err != nil {
		return err
	}

	if c.Producer.QueueDepth < 0 {
		return fmt.Errorf("invalid producer queue depth: %d", c.Producer.QueueDepth)
	}
	if c.Sink.SnapLen < 0 {
		return fmt.Errorf("invalid snap length: %d", c.Sink.SnapLen)
	}
	if c.Sink.DrainIntervalMicros < 0 {
		return fmt.Errorf("invalid drain interval: %d", c.Sink.DrainIntervalMicros)
	}

	if c.Metrics.Interval != "" {
		if _, err := time.ParseDuration(c.Metrics.Interval); err != nil {
			return fmt.Errorf("invalid metrics interval %q: %w", c.Metrics.Interval, err)
		}
	}
	switch c.Metrics.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid metrics format: %s", c.Metrics.Format)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}

	return nil
}

// MetricsInterval returns the reporter interval, or zero if reporting is off.
func (c *Config) MetricsInterval() time.Duration {
	d, err := time.ParseDuration(c.Metrics.Interval)
	if err != nil {
		return 0
	}
	return d
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		logging.Warnf("Unknown logging level %q, using info", c.Logging.Level)
	}
	logging.SetLevel(level)
	core.SetDebugMode(c.Debug)

	// Enable file logging if configured
	if c.Logging.File != "" {
		// Extract directory from file path
		dir := "."
		filename := c.Logging.File
		if lastSlash := strings.LastIndex(c.Logging.File, "/"); lastSlash != -1 {
			dir = c.Logging.File[:lastSlash]
			filename = c.Logging.File[lastSlash+1:]
		}

		err := logging.EnableFileLogging(
			dir,
			filename,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	// Determine file format based on extension
	switch {
	case strings.HasSuffix(path, ".json"):
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	// Create directory if it doesn't exist
	if lastSlash := strings.LastIndex(path, "/"); lastSlash != -1 {
		if err := os.MkdirAll(path[:lastSlash], 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Write to file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
