// Package receiver implements the base node's gap-tracking actor: it
// parses inbound datagrams, detects sequence gaps, deduplicates, and
// forwards frames to the decode queue in wire-arrival order.
package receiver

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/wire"
)

// defaultReadTimeout bounds each ReadFromUDP call so Run can observe the
// stop channel promptly instead of blocking forever on a quiet socket.
const defaultReadTimeout = time.Second

// DefaultMissingMax is the default cap on the gap set's cardinality.
const DefaultMissingMax = 1000

// DefaultResyncThreshold is the default backward-jump magnitude that
// triggers a resync instead of gap tracking (spec.md §9: 2×MissingMax).
func DefaultResyncThreshold(missingMax int) int {
	return 2 * missingMax
}

// Receiver owns the missing set and the last-observed sequence; it is
// their sole writer.
type Receiver struct {
	missingMax      int
	resyncThreshold int
	logger          *zap.Logger

	expectedNext uint64
	anchored     bool
	missing      map[uint64]struct{}
	missingOrder []uint64
}

// New builds a Receiver. missingMax/resyncThreshold fall back to spec
// defaults when <= 0.
func New(missingMax, resyncThreshold int, logger *zap.Logger) *Receiver {
	if missingMax <= 0 {
		missingMax = DefaultMissingMax
	}
	if resyncThreshold <= 0 {
		resyncThreshold = DefaultResyncThreshold(missingMax)
	}
	return &Receiver{
		missingMax:      missingMax,
		resyncThreshold: resyncThreshold,
		logger:          logger,
		missing:         make(map[uint64]struct{}),
	}
}

// DropReason labels why a datagram was not forwarded downstream.
type DropReason string

const (
	DropMalformed        DropReason = "malformed"
	DropUnrecoverablyLate DropReason = "unrecoverably_late"
)

// Handle processes one raw datagram. On success it returns the decoded
// batch's frames to forward downstream. A nil frame slice with an empty
// DropReason and a nil error means the datagram was a pure duplicate
// (nothing to forward, nothing to log as dropped).
func (r *Receiver) Handle(datagram []byte) ([]wire.Frame, DropReason, error) {
	batch, err := wire.Decode(datagram)
	if err != nil {
		return nil, DropMalformed, err
	}

	seq := batch.Sequence

	if !r.anchored {
		r.anchored = true
		r.expectedNext = seq + 1
		return batch.Frames, "", nil
	}

	if seq < r.expectedNext {
		backward := r.expectedNext - seq
		if int(backward) > r.resyncThreshold {
			r.resync(seq)
			return batch.Frames, "", nil
		}
		if int(backward) > r.missingMax {
			return nil, DropUnrecoverablyLate, nil
		}
		if _, wasMissing := r.missing[seq]; wasMissing {
			r.removeMissing(seq)
			return batch.Frames, "", nil
		}
		// Already delivered earlier: redelivering it downstream would
		// violate duplicate idempotence (spec.md §8 property 5; edge
		// case (b)).
		return nil, "", nil
	}

	if seq > r.expectedNext {
		for s := r.expectedNext; s < seq; s++ {
			r.addMissing(s)
		}
	}
	r.expectedNext = seq + 1

	return batch.Frames, "", nil
}

func (r *Receiver) resync(seq uint64) {
	r.missing = make(map[uint64]struct{})
	r.missingOrder = nil
	r.expectedNext = seq + 1
	r.logger.Info("receiver: resyncing after large backward jump", zap.Uint64("sequence", seq))
}

func (r *Receiver) addMissing(seq uint64) {
	if _, ok := r.missing[seq]; ok {
		return
	}
	r.missing[seq] = struct{}{}
	r.missingOrder = append(r.missingOrder, seq)
	if len(r.missingOrder) > r.missingMax {
		oldest := r.missingOrder[0]
		r.missingOrder = r.missingOrder[1:]
		delete(r.missing, oldest)
	}
}

func (r *Receiver) removeMissing(seq uint64) {
	if _, ok := r.missing[seq]; !ok {
		return
	}
	delete(r.missing, seq)
	for i, s := range r.missingOrder {
		if s == seq {
			r.missingOrder = append(r.missingOrder[:i], r.missingOrder[i+1:]...)
			break
		}
	}
}

// Missing returns a snapshot of the current gap set, unordered.
func (r *Receiver) Missing() []uint64 {
	out := make([]uint64, 0, len(r.missing))
	for s := range r.missing {
		out = append(out, s)
	}
	return out
}

// MissingCount returns the current gap set cardinality.
func (r *Receiver) MissingCount() int { return len(r.missing) }

// RemoveRecovered marks seq as no longer missing, called by the recovery
// client after a successful injection.
func (r *Receiver) RemoveRecovered(seq uint64) { r.removeMissing(seq) }

// Listener reads datagrams off a UDP socket and hands them to a
// per-datagram callback.
type Listener struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket at port on every interface.
func Listen(port int) (*Listener, error) {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{conn: conn}, nil
}

// Run reads datagrams until stop is closed, invoking handle for each.
func (l *Listener) Run(handle func([]byte), stop <-chan struct{}) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-stop:
			return
		default:
		}
		l.conn.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		handle(datagram)
	}
}

// Close releases the listening socket.
func (l *Listener) Close() error { return l.conn.Close() }
