package canbus

import (
	"time"

	"go.uber.org/zap"
)

// simulator generates a fixed set of CAN IDs at a steady rate, used for
// bench runs and demos when no real bridge is reachable.
type simulator struct {
	logger  *zap.Logger
	stopped bool
}

func newSimulator(logger *zap.Logger) *simulator {
	return &simulator{logger: logger}
}

var simulatedIDs = []uint32{0x100, 0x101, 0x200, 0x300, 0x301}

func (s *simulator) Run(out chan<- Observation) {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	var counter byte
	for !s.stopped {
		<-ticker.C
		counter++
		for _, id := range simulatedIDs {
			payload := []byte{counter, byte(id), byte(id >> 8), 0, 0, 0, 0, 0}
			select {
			case out <- Observation{Timestamp: nowSeconds(), CanID: id, Payload: payload}:
			default:
			}
		}
	}
}

func (s *simulator) Stop() {
	s.stopped = true
}

func (s *simulator) Mode() string { return "simulated" }
