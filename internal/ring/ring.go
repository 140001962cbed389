// Package ring implements the Sender's bounded-age retention store of
// recently transmitted batches, keyed by sequence number, used solely to
// serve retransmission lookups from the recovery server.
package ring

import (
	"sync"
	"time"

	"github.com/wfr/daq-telemetry/internal/wire"
)

// DefaultAge is the default retention horizon for ring entries.
const DefaultAge = 60 * time.Second

type entry struct {
	batch      wire.Batch
	insertedAt time.Time
}

// Ring retains batches keyed by sequence for up to Age, evicting purely
// by age — it never grows without bound as sequence increases, and it
// never evicts based on count.
type Ring struct {
	mu      sync.RWMutex
	age     time.Duration
	entries map[uint64]entry
	// order preserves insertion order (which is sequence order) so sweep
	// can stop at the first non-expired entry instead of scanning the map.
	order []uint64
}

// New creates a Ring with the given retention age. If age <= 0,
// DefaultAge is used.
func New(age time.Duration) *Ring {
	if age <= 0 {
		age = DefaultAge
	}
	return &Ring{
		age:     age,
		entries: make(map[uint64]entry),
	}
}

// Retain inserts a batch into the ring, stamped with the current wall
// time. Sequence numbers are expected to be strictly increasing across
// calls (the Sender is the sole writer), so appending to order preserves
// sequence order.
func (r *Ring) Retain(b wire.Batch, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[b.Sequence] = entry{batch: b, insertedAt: now}
	r.order = append(r.order, b.Sequence)
}

// Lookup returns the batch retained under sequence, if still present.
func (r *Ring) Lookup(sequence uint64) (wire.Batch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sequence]
	if !ok {
		return wire.Batch{}, false
	}
	return e.batch, true
}

// Sweep evicts every entry whose age exceeds the ring's retention window
// as of now. It returns the number of entries evicted.
func (r *Ring) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := 0
	for cut < len(r.order) {
		seq := r.order[cut]
		e, ok := r.entries[seq]
		if !ok {
			// Already removed (shouldn't normally happen since Retain is
			// the only other writer), skip it.
			cut++
			continue
		}
		if now.Sub(e.insertedAt) <= r.age {
			break
		}
		delete(r.entries, seq)
		cut++
	}
	if cut > 0 {
		r.order = r.order[cut:]
	}
	return cut
}

// Len returns the number of batches currently retained.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Run starts a goroutine that sweeps the ring on the given tick interval
// until ctx-equivalent stop channel is closed. It is a convenience for
// callers that don't want to manage their own ticker; ownership of the
// ring itself is unaffected.
func (r *Ring) Run(tick time.Duration, stop <-chan struct{}) {
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}
