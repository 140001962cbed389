package telemetry

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/canbus"
	"github.com/wfr/daq-telemetry/internal/config"
	"github.com/wfr/daq-telemetry/internal/metrics"
	"github.com/wfr/daq-telemetry/internal/recovery"
	"github.com/wfr/daq-telemetry/internal/ring"
	"github.com/wfr/daq-telemetry/internal/sender"
)

// ringSweepInterval is how often the car side's ring buffer is checked
// for age-expired entries; independent of RingAge itself.
const ringSweepInterval = 5 * time.Second

// carSide owns the CAN ingest, batching/sequencing sender, and the
// recovery server that answers the base node's retransmission requests.
type carSide struct {
	source canbus.Source
	ring   *ring.Ring
}

// runCarSide launches every car-side actor in its own goroutine and
// returns; the actors run until stop is closed.
func runCarSide(cfg config.Config, logger *zap.Logger, stop <-chan struct{}) (*carSide, error) {
	r := ring.New(cfg.RingAge)
	go r.Run(ringSweepInterval, stop)
	go reportRingSize(r, stop)

	remoteUDP := fmt.Sprintf("%s:%d", cfg.RemoteIP, cfg.UDPPort)
	transmitter, err := sender.NewUDPTransmitter(remoteUDP)
	if err != nil {
		return nil, fmt.Errorf("telemetry: dial udp transmitter: %w", err)
	}

	snd := sender.New(transmitter, r, cfg.BatchMax, cfg.BatchTimeout, logger)
	source := canbus.New(cfg.ZMQEndpoint, cfg.Simulate, logger)

	observations := make(chan canbus.Observation, 4096)
	go source.Run(observations)
	go func() {
		<-stop
		source.Stop()
	}()
	go snd.Run(observations, stop)

	recServer, err := recovery.NewServer(cfg.TCPPort, r, cfg.RecoveryCompressThreshold, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start recovery server: %w", err)
	}
	go recServer.Run(stop)
	go func() {
		<-stop
		recServer.Close()
	}()

	logger.Info("telemetry: car side running",
		zap.String("ingest_mode", source.Mode()),
		zap.String("remote_udp", remoteUDP),
		zap.Int("recovery_port", cfg.TCPPort))

	return &carSide{source: source, ring: r}, nil
}

func reportRingSize(r *ring.Ring, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			metrics.RingSize.Set(float64(r.Len()))
		}
	}
}
