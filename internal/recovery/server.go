package recovery

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/ring"
)

// gzipFlag is prepended to every server response: 1 if the JSON body that
// follows is gzip-compressed, 0 if it is sent raw.
const gzipFlag = 1
const rawFlag = 0

// shutdownGrace bounds how long Close waits for in-flight handle
// goroutines to finish once the listener stops accepting (spec.md §5:
// "closes its listener and drains in-flight connections with a short
// grace (2 s)").
const shutdownGrace = 2 * time.Second

// Server answers ring lookups for a client's requested sequences. It is
// the ring's sole reader besides the Sender itself.
type Server struct {
	ring              *ring.Ring
	compressThreshold int
	logger            *zap.Logger
	listener          net.Listener
	inFlight          sync.WaitGroup
}

// NewServer builds a Server bound to port. compressThreshold <= 0 disables
// compression.
func NewServer(port int, r *ring.Ring, compressThreshold int, logger *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", portAddr(port))
	if err != nil {
		return nil, err
	}
	return &Server{ring: r, compressThreshold: compressThreshold, logger: logger, listener: ln}, nil
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

// Addr returns the listener's bound address, useful when port 0 was
// requested and the OS assigned an ephemeral one.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Run accepts connections until stop is closed, handling each to
// completion before closing it (spec.md §5).
func (s *Server) Run(stop <-chan struct{}) {
	go func() {
		<-stop
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				s.logger.Debug("recovery server: accept error", zap.Error(err))
				continue
			}
		}
		s.inFlight.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.inFlight.Done()
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}

	var req request
	if err := json.Unmarshal(bytes.TrimSpace(line), &req); err != nil {
		return
	}

	entries := make([]responseEntry, 0, len(req.Missing))
	for _, seq := range req.Missing {
		batch, ok := s.ring.Lookup(seq)
		if !ok {
			continue
		}
		entries = append(entries, responseEntry{Seq: seq, Msgs: framesToMsgs(batch.Frames)})
	}

	body, err := json.Marshal(entries)
	if err != nil {
		return
	}

	if s.compressThreshold > 0 && len(body) > s.compressThreshold {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(body); err == nil && gw.Close() == nil {
			conn.Write([]byte{gzipFlag})
			conn.Write(buf.Bytes())
			return
		}
	}

	conn.Write([]byte{rawFlag})
	conn.Write(body)
}

// Close stops accepting new connections and waits up to shutdownGrace for
// in-flight handlers to finish responding before returning. A handler
// still running after the grace period is left to be cut short by its
// own per-connection deadline rather than forcibly aborted here.
func (s *Server) Close() error {
	err := s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Debug("recovery server: shutdown grace elapsed with requests still in flight")
	}

	return err
}
