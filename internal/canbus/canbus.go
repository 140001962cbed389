// Package canbus provides the ingest side of the car node: a Source feeds
// raw CAN observations into the sender's batching actor, either from a
// real ZMQ publisher bridging the vehicle's CAN interface or, when no
// broker is reachable, from a simulated generator used for bench and demo
// runs.
package canbus

import (
	"time"

	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/wire"
)

// Observation is a single decoded-from-wire CAN frame observed at the
// source, before batching.
type Observation struct {
	Timestamp float64
	CanID     uint32
	Payload   []byte
}

// Source produces a stream of CAN observations on the channel passed to
// Run until Stop is called. Implementations must not block send on a full channel forever;
// Run is expected to run in its own goroutine.
type Source interface {
	Run(out chan<- Observation)
	Stop()
	// Mode names the active ingest mode, surfaced on /health.
	Mode() string
}

// New builds a Source: it attempts to open a ZMQ subscriber at endpoint,
// and falls back to the simulated generator if the endpoint is empty or
// the connection attempt fails. This mirrors the car node's only two
// realistic deployment modes — bench testing and the real vehicle.
func New(endpoint string, simulate bool, logger *zap.Logger) Source {
	if simulate || endpoint == "" {
		logger.Info("canbus: starting simulated source", zap.Bool("forced", simulate))
		return newSimulator(logger)
	}

	src, err := newZMQSource(endpoint, logger)
	if err != nil {
		logger.Warn("canbus: failed to open zmq source, falling back to simulation",
			zap.String("endpoint", endpoint), zap.Error(err))
		return newSimulator(logger)
	}
	return src
}

func clampPayload(p []byte) []byte {
	if len(p) <= wire.PayloadLen {
		return p
	}
	return p[:wire.PayloadLen]
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
