package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/wirecap/pkg/capture"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1027, cfg.Engine.MaxPacketSize)
	assert.Equal(t, 256, cfg.Engine.LengthQueueDepth)
	assert.True(t, cfg.Engine.StartEnabled)
	assert.Greater(t, int(cfg.MetricsInterval()), 0)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.RingCapacity = 0
	assert.ErrorIs(t, cfg.Validate(), capture.ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	for _, level := range []string{"warning", "fatal", "WARN", ""} {
		cfg = DefaultConfig()
		cfg.Logging.Level = level
		assert.NoError(t, cfg.Validate(), level)
	}

	cfg = DefaultConfig()
	cfg.Metrics.Interval = "often"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Metrics.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Metrics.Interval = ""
	assert.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.MetricsInterval())
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"cfg.json", "cfg.yaml", "nested/cfg.yml"} {
		cfg := DefaultConfig()
		cfg.Engine.RingCapacity = 128
		cfg.Engine.StagingCapacity = 128
		cfg.Sink.PcapPath = "/tmp/out.pcap"

		path := filepath.Join(dir, name)
		require.NoError(t, cfg.SaveToFile(path), name)

		loaded := DefaultConfig()
		require.NoError(t, LoadFromFile(path, loaded), name)
		assert.Equal(t, cfg, loaded, name)
	}

	assert.Error(t, DefaultConfig().SaveToFile(filepath.Join(dir, "cfg.toml")))
	assert.Error(t, LoadFromFile(filepath.Join(dir, "missing.json"), DefaultConfig()))
}

func TestLoadYAMLKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wirecap.yaml")
	data := []byte(`
engine:
  stagingCapacity: 128
  ringCapacity: 128
  maxPacketSize: 1027
sink:
  pcapPath: capture.pcap
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg := DefaultConfig()
	require.NoError(t, LoadFromFile(path, cfg))
	assert.Equal(t, 128, cfg.Engine.StagingCapacity)
	assert.Equal(t, 128, cfg.Engine.RingCapacity)
	assert.Equal(t, 256, cfg.Engine.LengthQueueDepth)
	assert.Equal(t, "capture.pcap", cfg.Sink.PcapPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WIRECAP_RING_CAPACITY", "4096")
	t.Setenv("WIRECAP_START_ENABLED", "false")
	t.Setenv("WIRECAP_PCAP_PATH", "out.pcap")
	t.Setenv("WIRECAP_METRICS_FORMAT", "json")
	t.Setenv("WIRECAP_LOGGING_MAX_AGE", "14")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, 4096, cfg.Engine.RingCapacity)
	assert.False(t, cfg.Engine.StartEnabled)
	assert.Equal(t, "out.pcap", cfg.Sink.PcapPath)
	assert.Equal(t, "json", cfg.Metrics.Format)
	assert.Equal(t, 14, cfg.Logging.MaxAge)
	assert.Equal(t, 8*1024, cfg.Engine.StagingCapacity)
}

func TestLoadFromEnvRejectsMalformed(t *testing.T) {
	t.Setenv("WIRECAP_LOGGING_MAX_AGE", "not-a-number")

	err := LoadFromEnv(DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WIRECAP_LOGGING_MAX_AGE")
}

func TestLoadFromEnvZeroReachesValidate(t *testing.T) {
	t.Setenv("WIRECAP_STAGING_CAPACITY", "0")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Zero(t, cfg.Engine.StagingCapacity)
	assert.ErrorIs(t, cfg.Validate(), capture.ErrInvalidConfig)
}

func TestApplyFlagOverridesEnv(t *testing.T) {
	// Only the SETTING_NAME spelling is an environment variable; a
	// flag-shaped name is ignored.
	t.Setenv("WIRECAP_STAGING_CAPACITY", "4096")
	t.Setenv("WIRECAP_STAGING", "1234")
	t.Setenv("WIRECAP_LOGGING_LEVEL", "debug")
	t.Setenv("WIRECAP_LOG_LEVEL", "error")

	v := viper.New()
	require.NoError(t, BindEnv(v))
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("ring", 0, "")
	require.NoError(t, v.BindPFlag(KeyRingCapacity, fs.Lookup("ring")))
	fs.Int("staging", 0, "")
	require.NoError(t, v.BindPFlag(KeyStagingCapacity, fs.Lookup("staging")))

	cfg := DefaultConfig()
	require.NoError(t, cfg.Apply(v))
	assert.Equal(t, 4096, cfg.Engine.StagingCapacity)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 64*1024, cfg.Engine.RingCapacity, "unchanged flag must not apply its default")

	require.NoError(t, fs.Parse([]string{"--staging", "2048", "--ring", "512"}))
	cfg = DefaultConfig()
	require.NoError(t, cfg.Apply(v))
	assert.Equal(t, 2048, cfg.Engine.StagingCapacity)
	assert.Equal(t, 512, cfg.Engine.RingCapacity)
}

func TestApplyLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "warn"
	require.NoError(t, cfg.ApplyLogging())

	cfg.Logging.Level = "info"
	require.NoError(t, cfg.ApplyLogging())
}
