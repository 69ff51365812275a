// Command wirecap runs the capture/queue engine against pcap replays, live
// UDP ingest, or the built-in overrun scenario.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/irctrakz/wirecap/pkg/config"
	"github.com/irctrakz/wirecap/pkg/logging"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "wirecap",
	Short: "wirecap - bounded protocol traffic capture with self-describing loss",
	Long: `wirecap segments a byte stream into packets, buffers them against a slow
consumer and emits length-prefixed frames. Packets that cannot be kept are
replaced by a 0xFFFF overrun marker so the output never loses framing.

Settings resolve in the order flag, WIRECAP_* environment variable, config
file, built-in default. The config file itself may be named by WIRECAP_CONFIG.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "config file path (.json, .yaml, .yml)")
	pf.String("log-level", "info", "logging level (debug, info, warn, error)")
	pf.Int("staging", 0, "staging buffer capacity in bytes")
	pf.Int("lengths", 0, "length queue depth")
	pf.Int("ring", 0, "output ring capacity in bytes")
	pf.Int("max-packet", 0, "maximum counted packet size in bytes")
	pf.Bool("debug", false, "copy frame data on construction and on access")

	for flag, key := range map[string]string{
		"config":     "config",
		"log-level":  config.KeyLoggingLevel,
		"staging":    config.KeyStagingCapacity,
		"lengths":    config.KeyLengthQueueDepth,
		"ring":       config.KeyRingCapacity,
		"max-packet": config.KeyMaxPacketSize,
		"debug":      config.KeyDebug,
	} {
		_ = v.BindPFlag(key, pf.Lookup(flag))
	}
	_ = v.BindEnv("config", config.EnvPrefix+"CONFIG")
	if err := config.BindEnv(v); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(replayCmd, serveCmd, scenarioCmd, stressCmd)
}

// loadConfig resolves the configuration from defaults, file, environment
// and flags, then applies logging.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		if err := config.LoadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Apply(v); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}
