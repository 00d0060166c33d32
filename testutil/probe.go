package testutil

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// ProbeServer is a stub service instance that speaks the health-check wire
// protocol: it reads the probe request and answers with a configurable
// reply, "OK" by default. Use SetReply/SetDelay to simulate a sick or slow
// instance.
type ProbeServer struct {
	ln net.Listener

	mu    sync.Mutex
	reply string
	delay time.Duration

	wg     sync.WaitGroup
	closed chan struct{}
}

// NewProbeServer starts a stub instance on a random loopback port and
// registers its shutdown as a test cleanup.
func NewProbeServer(t *testing.T) *ProbeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe server listen: %v", err)
	}

	s := &ProbeServer{
		ln:     ln,
		reply:  "OK",
		closed: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(s.Close)
	return s
}

// Host returns the listen host.
func (s *ProbeServer) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the listen port.
func (s *ProbeServer) Port() int {
	_, portStr, _ := net.SplitHostPort(s.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

// Addr returns the host:port address of the stub instance.
func (s *ProbeServer) Addr() string {
	return s.ln.Addr().String()
}

// SetReply changes the response sent to subsequent probes.
func (s *ProbeServer) SetReply(reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = reply
}

// SetDelay makes subsequent probes wait before answering, to simulate an
// instance slower than the probe timeout.
func (s *ProbeServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Close stops the stub instance. Safe to call more than once.
func (s *ProbeServer) Close() {
	select {
	case <-s.closed:
		return
	default:
		close(s.closed)
	}
	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *ProbeServer) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *ProbeServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	buf := make([]byte, 64)
	if _, err := conn.Read(buf); err != nil {
		return
	}

	s.mu.Lock()
	reply := s.reply
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-s.closed:
			return
		}
	}

	_, _ = conn.Write([]byte(reply))
}
