//go:build !nozmq
// +build !nozmq

package canbus

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pebbe/zmq4"
	"go.uber.org/zap"
)

// zmqSource subscribes to a CAN-over-ZMQ bridge publishing frames as
// two-part messages: a topic frame ("can") and a payload frame of up to
// 12 bytes (4-byte little-endian CAN ID + up to 8 data bytes; any bytes
// past those 8 are dropped).
type zmqSource struct {
	endpoint string
	logger   *zap.Logger
	socket   *zmq4.Socket
	stopped  bool
}

func newZMQSource(endpoint string, logger *zap.Logger) (*zmqSource, error) {
	if !strings.HasPrefix(endpoint, "tcp://") && !strings.HasPrefix(endpoint, "ipc://") {
		endpoint = "tcp://" + endpoint
	}

	socket, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		socket.Close()
		return nil, err
	}
	if err := socket.SetSubscribe("can"); err != nil {
		socket.Close()
		return nil, err
	}

	return &zmqSource{endpoint: endpoint, logger: logger, socket: socket}, nil
}

func (s *zmqSource) Run(out chan<- Observation) {
	s.logger.Info("canbus: zmq source running", zap.String("endpoint", s.endpoint))

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 250 * time.Millisecond
	retry.MaxInterval = 5 * time.Second
	retry.MaxElapsedTime = 0 // retry indefinitely; the socket outlives any single outage

	for !s.stopped {
		msgs, err := s.socket.RecvMessageBytes(0)
		if err != nil {
			if s.stopped {
				return
			}
			wait := retry.NextBackOff()
			s.logger.Warn("canbus: zmq recv error, backing off", zap.Error(err), zap.Duration("wait", wait))
			time.Sleep(wait)
			continue
		}
		retry.Reset()
		if len(msgs) < 2 || len(msgs[1]) < 4 {
			continue
		}

		body := msgs[1]
		canID := binary.LittleEndian.Uint32(body[0:4])
		payload := clampPayload(body[4:])

		select {
		case out <- Observation{Timestamp: nowSeconds(), CanID: canID, Payload: payload}:
		default:
			// Downstream batching is backed up; drop rather than block the
			// socket reader.
		}
	}
}

func (s *zmqSource) Stop() {
	s.stopped = true
	if s.socket != nil {
		s.socket.Close()
	}
}

func (s *zmqSource) Mode() string { return "zmq" }
