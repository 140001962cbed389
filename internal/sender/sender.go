// Package sender implements the car node's batching actor: it admits a
// push stream of CAN observations, batches them by count or timeout,
// assigns a monotonic sequence, transmits on the unreliable datagram
// channel, and retains every emitted batch in the ring for retransmission.
package sender

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/canbus"
	"github.com/wfr/daq-telemetry/internal/ring"
	"github.com/wfr/daq-telemetry/internal/wire"
)

const (
	DefaultBatchMax     = 20
	DefaultBatchTimeout = 50 * time.Millisecond
)

// Transmitter sends an encoded datagram on the unreliable channel.
// Implementations must not block the Sender's batching loop; a slow or
// unreachable peer is logged and non-fatal (spec.md §4.3).
type Transmitter interface {
	Send(datagram []byte) error
}

// udpTransmitter is the production Transmitter: a connected UDP socket.
type udpTransmitter struct {
	conn *net.UDPConn
}

// NewUDPTransmitter dials a UDP "connection" to remoteAddr — UDP has no
// handshake, this only fixes the destination for subsequent Writes.
func NewUDPTransmitter(remoteAddr string) (Transmitter, error) {
	addr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &udpTransmitter{conn: conn}, nil
}

func (t *udpTransmitter) Send(datagram []byte) error {
	_, err := t.conn.Write(datagram)
	return err
}

// Sender owns the sequence counter and the ring; it is the ring's sole
// writer.
type Sender struct {
	batchMax     int
	batchTimeout time.Duration

	transmitter Transmitter
	ring        *ring.Ring
	logger      *zap.Logger

	sequence uint64
}

// New builds a Sender. batchMax/batchTimeout fall back to their spec
// defaults when <= 0.
func New(transmitter Transmitter, r *ring.Ring, batchMax int, batchTimeout time.Duration, logger *zap.Logger) *Sender {
	if batchMax <= 0 {
		batchMax = DefaultBatchMax
	}
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}
	return &Sender{
		batchMax:     batchMax,
		batchTimeout: batchTimeout,
		transmitter:  transmitter,
		ring:         r,
		logger:       logger,
	}
}

// Run consumes observations and emits batches until in is closed or stop
// fires. On stop it flushes a final non-empty batch before returning,
// per spec.md §5's cancellation rules.
func (s *Sender) Run(in <-chan canbus.Observation, stop <-chan struct{}) {
	var pending []wire.Frame
	timer := time.NewTimer(s.batchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		s.emit(pending)
		pending = nil
	}

	for {
		select {
		case <-stop:
			flush()
			return
		case obs, ok := <-in:
			if !ok {
				flush()
				return
			}
			pending = append(pending, wire.NewFrame(obs.Timestamp, obs.CanID, obs.Payload))
			if len(pending) >= s.batchMax {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(s.batchTimeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(s.batchTimeout)
		}
	}
}

func (s *Sender) emit(frames []wire.Frame) {
	s.sequence++
	batch := wire.Batch{Sequence: s.sequence, Frames: append([]wire.Frame(nil), frames...)}

	datagram := wire.Encode(batch)
	if err := s.transmitter.Send(datagram); err != nil {
		s.logger.Debug("sender: transmit failed, batch retained for recovery",
			zap.Uint64("sequence", batch.Sequence), zap.Error(err))
	}

	s.ring.Retain(batch, time.Now())
}
