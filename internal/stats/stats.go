// Package stats aggregates received/missing/recovered counts from the
// receiver and recovery client without either of them touching shared
// state directly: they emit events on a channel, and a single publisher
// actor owns the running totals, the Prometheus gauges, and the
// once-per-second system_stats publication. The base-side wiring emits
// only Received and Recovered events; no caller emits Missing, so the
// published missing delta is always 0.
package stats

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/metrics"
	"github.com/wfr/daq-telemetry/internal/pubsub"
)

// EventKind identifies what a stats Event counts.
type EventKind int

const (
	Received EventKind = iota
	Missing
	Recovered
)

// Event is one unit of the quantity named by Kind, emitted by whichever
// actor observed it.
type Event struct {
	Kind EventKind
}

// systemStats is the wire shape published on the system_stats channel,
// exactly as spec.md §6 describes: deltas over the last second.
type systemStats struct {
	Received  int64 `json:"received"`
	Missing   int64 `json:"missing"`
	Recovered int64 `json:"recovered"`
}

// Publisher owns the running totals and publishes a delta snapshot once
// per second on the given pub/sub backend and channel.
type Publisher struct {
	events       chan Event
	backend      pubsub.Backend
	channel      string
	logger       *zap.Logger
	missingCount func() int

	totalReceived  int64
	totalMissing   int64
	totalRecovered int64
}

// NewPublisher builds a Publisher. backend may be nil, in which case
// publication is skipped but Prometheus metrics still update. missingCount
// reports the receiver's current gap-set cardinality for the
// MissingSetSize gauge; it may be nil on the car node, which has no
// receiver.
func NewPublisher(backend pubsub.Backend, channel string, missingCount func() int, logger *zap.Logger) *Publisher {
	return &Publisher{
		events:       make(chan Event, 4096),
		backend:      backend,
		channel:      channel,
		missingCount: missingCount,
		logger:       logger,
	}
}

// Emit records one occurrence of kind. Non-blocking: a full event queue
// drops the observation rather than stall the emitting actor — stats are
// an aggregate diagnostic, not an exactly-once ledger.
func (p *Publisher) Emit(kind EventKind) {
	select {
	case p.events <- Event{Kind: kind}:
	default:
	}
}

// Run consumes events and publishes a delta snapshot every second until
// stop is closed.
func (p *Publisher) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var deltaReceived, deltaMissing, deltaRecovered int64

	for {
		select {
		case <-stop:
			return
		case ev := <-p.events:
			switch ev.Kind {
			case Received:
				deltaReceived++
				p.totalReceived++
			case Missing:
				deltaMissing++
				p.totalMissing++
			case Recovered:
				deltaRecovered++
				p.totalRecovered++
			}
		case <-ticker.C:
			snap := systemStats{Received: deltaReceived, Missing: deltaMissing, Recovered: deltaRecovered}
			deltaReceived, deltaMissing, deltaRecovered = 0, 0, 0

			if p.missingCount != nil {
				metrics.MissingSetSize.Set(float64(p.missingCount()))
			}
			if snap.Recovered > 0 {
				metrics.FramesRecovered.Add(float64(snap.Recovered))
			}

			if p.backend == nil {
				continue
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			if err := p.backend.Publish(p.channel, payload); err != nil {
				p.logger.Debug("stats: publish failed", zap.Error(err))
			}
		}
	}
}
