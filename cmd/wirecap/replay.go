package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/irctrakz/wirecap/pkg/capture"
	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/producer"
	"github.com/irctrakz/wirecap/pkg/sink"
)

var replayCmd = &cobra.Command{
	Use:   "replay <input.pcap>",
	Short: "Replay a pcap file through the engine",
	Long: `
Replay every packet of a pcap file through the capture engine and write the
frames that survive to an output pcap.

Examples:
  wirecap replay in.pcap -o out.pcap              # default buffers
  wirecap replay in.pcap -o out.pcap --ring 4096  # small output ring
  wirecap replay in.pcap --limit 100 --gap 4      # first 100 packets, 4 idle steps apart
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = cfg.Sink.PcapPath
		}
		gap, _ := cmd.Flags().GetInt("gap")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runReplay(ctx, cfg.Engine, cfg.Sink, args[0], out, gap, limit)
	},
}

func init() {
	replayCmd.Flags().StringP("out", "o", "", "output pcap path")
	replayCmd.Flags().Int("gap", producer.DefaultGap, "idle steps between packets")
	replayCmd.Flags().Int("limit", 0, "stop after this many packets (0 = all)")
}

func runReplay(ctx context.Context, ecfg core.EngineConfig, scfg core.SinkConfig, in, out string, gap, limit int) error {
	ecfg.StartEnabled = true
	engine, err := capture.New(ecfg)
	if err != nil {
		return err
	}

	src, err := producer.OpenPcapReplay(in, gap, limit)
	if err != nil {
		return err
	}
	defer src.Close()

	var handler core.FrameHandler
	var pw *sink.PcapWriter
	if out != "" {
		pw, err = sink.CreatePcapWriter(out, scfg.SnapLen)
		if err != nil {
			return err
		}
		handler = pw
	}

	pump := sink.NewPump(engine.Output(), handler, time.Duration(scfg.DrainIntervalMicros)*time.Microsecond)
	pumpCtx, stopPump := context.WithCancel(context.Background())

	var wg conc.WaitGroup
	wg.Go(func() { _ = pump.Run(pumpCtx) })

	start := time.Now()
	runErr := engine.Run(ctx, src)
	stopPump()
	wg.Wait()

	if pw != nil {
		if err := pw.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}

	pm := pump.Metrics()
	em := engine.Metrics()
	fmt.Printf("Replayed %d packets (%d bytes) in %v\n",
		src.Metrics().PacketsInjected, src.Metrics().BytesInjected, time.Since(start))
	fmt.Printf("Frames: %d packets, %d overrun markers\n", pm.Frames, pm.Markers)
	fmt.Printf("Loss: staging=%d ring=%d unrecorded=%d discarded=%dB\n",
		em.StagingOverruns, em.RingOverruns, em.UnrecordedPackets, em.BytesDiscarded)
	return runErr
}
