package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/irctrakz/wirecap/pkg/capture"
	"github.com/irctrakz/wirecap/pkg/config"
	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/logging"
	"github.com/irctrakz/wirecap/pkg/metrics"
	"github.com/irctrakz/wirecap/pkg/producer"
	"github.com/irctrakz/wirecap/pkg/sink"
)

const maxDatagram = 65535

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Capture UDP datagrams and serve the framed stream over TCP",
	Long: `
Capture every datagram received on the ingest address as one packet and serve
the framed output stream to a single TCP client. Metrics, health and status
are served over HTTP.

Examples:
  wirecap serve                                   # defaults from config
  wirecap serve --ingest :7700 --stream :7701     # explicit addresses
  wirecap serve --pcap capture.pcap               # also keep a pcap copy
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if s, _ := cmd.Flags().GetString("ingest"); s != "" {
			cfg.Producer.IngestAddr = s
		}
		if s, _ := cmd.Flags().GetString("stream"); s != "" {
			cfg.Sink.ListenAddr = s
		}
		if s, _ := cmd.Flags().GetString("pcap"); s != "" {
			cfg.Sink.PcapPath = s
		}
		if s, _ := cmd.Flags().GetString("metrics"); s != "" {
			cfg.Metrics.ListenAddr = s
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().String("ingest", "", "UDP ingest address")
	serveCmd.Flags().String("stream", "", "TCP stream address")
	serveCmd.Flags().String("pcap", "", "also write captured packets to this pcap")
	serveCmd.Flags().String("metrics", "", "HTTP metrics address")
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logging.Component("serve")

	engine, err := capture.New(cfg.Engine)
	if err != nil {
		return err
	}
	var srv *http.Server
	if cfg.Metrics.ListenAddr != "" {
		handler, err := newHTTPHandler(engine)
		if err != nil {
			return err
		}
		srv = &http.Server{
			Addr:         cfg.Metrics.ListenAddr,
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}

	live := producer.NewLive("udp", cfg.Producer.QueueDepth,
		time.Duration(cfg.Producer.IdleMicros)*time.Microsecond)

	ingest, err := net.ListenPacket("udp", cfg.Producer.IngestAddr)
	if err != nil {
		return fmt.Errorf("listen ingest %s: %w", cfg.Producer.IngestAddr, err)
	}
	log.Infof("Capturing datagrams on %s", ingest.LocalAddr())

	stream := sink.NewStreamServer(0)
	if err := stream.Listen(cfg.Sink.ListenAddr); err != nil {
		ingest.Close()
		return err
	}

	handlers := []core.FrameHandler{stream}
	var pw *sink.PcapWriter
	if cfg.Sink.PcapPath != "" {
		pw, err = sink.CreatePcapWriter(cfg.Sink.PcapPath, cfg.Sink.SnapLen)
		if err != nil {
			ingest.Close()
			stream.Close()
			return err
		}
		defer pw.Close()
		handlers = append(handlers, pw)
	}
	pump := sink.NewPump(engine.Output(), sink.NewTee(handlers...),
		time.Duration(cfg.Sink.DrainIntervalMicros)*time.Microsecond)

	p := pool.New().WithContext(ctx).WithCancelOnError()

	p.Go(func(ctx context.Context) error {
		defer live.Close()
		return readDatagrams(ctx, ingest, live)
	})
	p.Go(func(ctx context.Context) error {
		return engine.Run(ctx, live)
	})
	p.Go(func(ctx context.Context) error {
		return pump.Run(ctx)
	})
	p.Go(func(ctx context.Context) error {
		return stream.Serve(ctx)
	})
	if d := cfg.MetricsInterval(); d > 0 {
		reporter := metrics.NewReporter(engine, d, cfg.Metrics.Format)
		p.Go(func(ctx context.Context) error {
			reporter.Run(ctx)
			return nil
		})
	}
	if srv != nil {
		p.Go(func(ctx context.Context) error {
			stop := context.AfterFunc(ctx, func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			})
			defer stop()
			log.Infof("Serving metrics on %s", cfg.Metrics.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	err = p.Wait()
	m := engine.Metrics()
	log.Infof("Stopped: %d packets captured, %d transferred, %d markers",
		m.PacketsCaptured, m.PacketsTransferred, m.MarkersEmitted)
	return err
}

// readDatagrams injects each datagram received on conn as one packet.
func readDatagrams(ctx context.Context, conn net.PacketConn, live *producer.Live) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read ingest: %w", err)
		}
		if err := live.Inject(buf[:n]); err != nil {
			logging.Debugf("Ingest: %v", err)
		}
	}
}
