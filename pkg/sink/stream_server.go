package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/net/netutil"

	"github.com/irctrakz/wirecap/pkg/core"
	"github.com/irctrakz/wirecap/pkg/framing"
	"github.com/irctrakz/wirecap/pkg/logging"
)

// DefaultClientQueue is the number of encoded frames buffered for a client.
const DefaultClientQueue = 1024

// StreamServerMetrics contains metrics for a stream server.
type StreamServerMetrics struct {
	Clients      uint64
	FramesSent   uint64
	BytesSent    uint64
	FramesQueued uint64
	// FramesDropped counts frames dropped because the client queue was full.
	FramesDropped uint64
	// FramesUnsent counts frames seen while no client was connected.
	FramesUnsent uint64
}

type streamClient struct {
	conn net.Conn
	ch   chan []byte
	done chan struct{}
	once sync.Once

	// lost is set after a dropped frame until a marker has been queued.
	lost atomic.Bool
}

// close reports whether this call closed the client.
func (c *streamClient) close() bool {
	closed := false
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
		closed = true
	})
	return closed
}

// StreamServer serves the framed output stream over TCP to one client at a
// time. Only whole frames are sent, so every client starts on a frame
// boundary.
type StreamServer struct {
	queue int
	log   *logrus.Entry

	ln net.Listener

	mu      sync.Mutex
	current *streamClient
	wg      sync.WaitGroup

	clients       atomic.Uint64
	framesSent    atomic.Uint64
	bytesSent     atomic.Uint64
	framesQueued  atomic.Uint64
	framesDropped atomic.Uint64
	framesUnsent  atomic.Uint64
}

// NewStreamServer creates a stream server. A non-positive queue selects
// DefaultClientQueue.
func NewStreamServer(queue int) *StreamServer {
	if queue <= 0 {
		queue = DefaultClientQueue
	}
	return &StreamServer{
		queue: queue,
		log:   logging.Component("stream"),
	}
}

// Listen binds the server to a TCP address.
func (s *StreamServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sink: listen %s: %w", addr, err)
	}
	s.ln = netutil.LimitListener(ln, 1)
	s.log.Infof("Stream server listening on %s", ln.Addr())
	return nil
}

// Addr returns the listening address.
func (s *StreamServer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts clients until ctx is done.
func (s *StreamServer) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("sink: stream server is not listening")
	}
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.dropClient()
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("sink: accept: %w", err)
		}
		s.attach(conn)
	}
}

func (s *StreamServer) attach(conn net.Conn) {
	c := &streamClient{
		conn: conn,
		ch:   make(chan []byte, s.queue),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
	s.clients.Inc()
	s.log.WithField("remote", conn.RemoteAddr().String()).Infof("Stream client connected")

	s.wg.Add(2)
	go s.writeLoop(c)
	go func() {
		defer s.wg.Done()
		// Clients never send; a read returning means they went away.
		_, _ = io.Copy(io.Discard, conn)
		s.detach(c)
	}()
}

func (s *StreamServer) writeLoop(c *streamClient) {
	defer s.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.ch:
			if _, err := c.conn.Write(frame); err != nil {
				s.log.Debugf("Stream client write failed: %v", err)
				s.detach(c)
				return
			}
			s.framesSent.Inc()
			s.bytesSent.Add(uint64(len(frame)))
		}
	}
}

func (s *StreamServer) detach(c *streamClient) {
	s.mu.Lock()
	if s.current == c {
		s.current = nil
	}
	s.mu.Unlock()
	if c.close() {
		s.log.WithField("remote", c.conn.RemoteAddr().String()).Infof("Stream client disconnected")
	}
}

func (s *StreamServer) dropClient() {
	s.mu.Lock()
	c := s.current
	s.current = nil
	s.mu.Unlock()
	if c != nil {
		c.close()
	}
}

// HandleFrame implements core.FrameHandler. It never blocks. Frames that do
// not fit the client queue are dropped whole and the client later receives
// an overrun marker in their place.
func (s *StreamServer) HandleFrame(f core.Frame) error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		s.framesUnsent.Inc()
		return nil
	}

	if c.lost.Load() {
		select {
		case c.ch <- framing.AppendOverrunMarker(nil):
			c.lost.Store(false)
		default:
			s.framesDropped.Inc()
			return nil
		}
	}

	encoded, err := framing.AppendEncoded(nil, f)
	if err != nil {
		return err
	}
	select {
	case c.ch <- encoded:
		s.framesQueued.Inc()
	default:
		s.framesDropped.Inc()
		c.lost.Store(true)
	}
	return nil
}

// Connected reports whether a client is attached.
func (s *StreamServer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Close stops the listener and disconnects the client.
func (s *StreamServer) Close() error {
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.dropClient()
	return err
}

// Metrics returns metrics for the server.
func (s *StreamServer) Metrics() StreamServerMetrics {
	return StreamServerMetrics{
		Clients:       s.clients.Load(),
		FramesSent:    s.framesSent.Load(),
		BytesSent:     s.bytesSent.Load(),
		FramesQueued:  s.framesQueued.Load(),
		FramesDropped: s.framesDropped.Load(),
		FramesUnsent:  s.framesUnsent.Load(),
	}
}
