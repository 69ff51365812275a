package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/irctrakz/wirecap/pkg/capture"
	"github.com/irctrakz/wirecap/pkg/config"
	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/framing"
	"github.com/irctrakz/wirecap/pkg/producer"
)

const (
	defaultScenarioSizes = "3,11,1,3,35,1,3,35,1,3,35,1,3"
	settleSteps          = 1 << 16
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Run the overrun scenario against a small output ring",
	Long: `
Feed a fixed packet sequence into an engine whose output ring is never
drained, print the frames the ring holds, then send one oversized packet and
print the marker that replaces it.

Examples:
  wirecap scenario                        # 128 byte ring and staging
  wirecap scenario --sizes 10,20,200      # custom packet sizes
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sizesFlag, _ := cmd.Flags().GetString("sizes")
		sizes, err := parseSizes(sizesFlag)
		if err != nil {
			return err
		}
		large, _ := cmd.Flags().GetInt("large")

		ecfg := cfg.Engine
		if !v.IsSet(config.KeyRingCapacity) {
			ecfg.RingCapacity = 128
		}
		if !v.IsSet(config.KeyStagingCapacity) {
			ecfg.StagingCapacity = 128
		}
		ecfg.StartEnabled = true
		return runScenario(os.Stdout, ecfg, sizes, large)
	},
}

func init() {
	scenarioCmd.Flags().String("sizes", defaultScenarioSizes, "comma separated packet sizes")
	scenarioCmd.Flags().Int("large", 1536, "size of the final oversized packet (0 = skip)")
}

func parseSizes(s string) ([]int, error) {
	var sizes []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid packet size %q", part)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

// tickScript steps engine through every sample of script, then until every
// committed packet has been framed or the ring blocks further progress.
func tickScript(engine *capture.Engine, script *producer.Script) {
	for {
		s, err := script.Next()
		if err != nil {
			break
		}
		engine.Tick(s)
	}
	settleEngine(engine)
}

// settleEngine ticks idle samples until engine is quiescent or a bound is hit.
func settleEngine(engine *capture.Engine) {
	for i := 0; i < settleSteps && !engine.Quiescent(); i++ {
		engine.Tick(core.IdleSample)
	}
}

func runScenario(w io.Writer, ecfg core.EngineConfig, sizes []int, large int) error {
	engine, err := capture.New(ecfg)
	if err != nil {
		return err
	}

	script := producer.NewScript()
	for i, n := range sizes {
		data := make([]byte, n)
		for j := range data {
			data[j] = byte(i<<4 | j&0x0f)
		}
		script.AddPacket(data)
	}
	tickScript(engine, script)

	fmt.Fprintf(w, "Sent %d packets into a %d byte ring\n", len(sizes), ecfg.RingCapacity)
	fmt.Fprintf(w, "Ring level: %d bytes\n", engine.Output().Level())
	printStatus(w, engine)
	printFrames(w, engine)

	if large > 0 {
		script := producer.NewScript().AddPacket(make([]byte, large))
		tickScript(engine, script)
		fmt.Fprintf(w, "Sent one %d byte packet\n", large)
		printFrames(w, engine)
	}

	m := engine.Metrics()
	fmt.Fprintf(w, "Metrics: captured=%d transferred=%d markers=%d staging_ovr=%d ring_ovr=%d discarded=%d dropped=%d\n",
		m.PacketsCaptured, m.PacketsTransferred, m.MarkersEmitted,
		m.StagingOverruns, m.RingOverruns, m.BytesDiscarded, m.BytesDropped)
	return nil
}

func printStatus(w io.Writer, engine *capture.Engine) {
	st := engine.Status()
	fmt.Fprintf(w, "Status: capture=%s transfer=%s overrun=%t stopped=%t discarding=%t\n",
		st.CaptureState, st.TransferState, st.Overrun, st.Stopped, st.Discarding)
}

// printFrames drains the output ring and prints one line per frame.
func printFrames(w io.Writer, engine *capture.Engine) {
	buf := make([]byte, engine.Config().RingCapacity)
	var stream []byte
	for {
		n := engine.Output().Drain(buf)
		if n == 0 {
			break
		}
		stream = append(stream, buf[:n]...)
		settleEngine(engine)
	}

	frames, rest := framing.DecodeAll(stream)
	for i, f := range frames {
		if f.Overrun() {
			fmt.Fprintf(w, "  frame %2d: OVERRUN\n", i)
			continue
		}
		fmt.Fprintf(w, "  frame %2d: len=%-4d %s\n", i, f.Length(), hex.EncodeToString(f.Data()))
	}
	if len(rest) > 0 {
		fmt.Fprintf(w, "  %d trailing bytes\n", len(rest))
	}
}
