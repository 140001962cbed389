// Package broker fans decoded records out to a dynamic set of streaming
// subscribers (SSE, WebSocket) with non-blocking, per-subscriber
// backpressure isolation, and keeps a small replay cache so reconnecting
// SSE clients can resume from their last seen event id.
package broker

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/decode"
)

// DefaultSubscriberQueueMax is the default per-subscription bounded
// queue depth.
const DefaultSubscriberQueueMax = 1000

// DefaultReplayCacheSize is the default count of recently published
// events kept for Last-Event-ID replay.
const DefaultReplayCacheSize = 256

// Event wraps a decoded record with the monotonic id used for SSE framing
// and replay.
type Event struct {
	ID     uint64
	Record decode.Record
}

// Subscription is a live consumer's bounded message queue, owned by the
// streaming endpoint that created it. The broker's registry holds a
// pointer to it until it is cancelled.
type Subscription struct {
	ch     chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// Events returns the subscription's receive channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Done reports when the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.ctx.Done() }

// Broker owns the subscriber registry and the replay cache. Publish is
// non-blocking per subscriber.
type Broker struct {
	mu          sync.RWMutex
	subs        map[*Subscription]struct{}
	queueMax    int
	nextID      uint64
	replay      *lru.Cache
	replaySize  int
	logger      *zap.Logger
}

// New builds a Broker with the given per-subscriber queue depth and
// replay cache size (both fall back to their defaults when <= 0).
func New(queueMax, replaySize int, logger *zap.Logger) *Broker {
	if queueMax <= 0 {
		queueMax = DefaultSubscriberQueueMax
	}
	if replaySize <= 0 {
		replaySize = DefaultReplayCacheSize
	}
	cache, _ := lru.New(replaySize)
	return &Broker{
		subs:       make(map[*Subscription]struct{}),
		queueMax:   queueMax,
		replay:     cache,
		replaySize: replaySize,
		logger:     logger,
	}
}

// Subscribe registers a new subscription bound to ctx; cancelling ctx (or
// calling the returned cancel) unregisters it.
func (b *Broker) Subscribe(ctx context.Context) (*Subscription, context.CancelFunc) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ch:     make(chan Event, b.queueMax),
		ctx:    subCtx,
		cancel: cancel,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-subCtx.Done()
		b.unsubscribe(sub)
	}()

	return sub, cancel
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers rec to every live subscription. A subscription whose
// queue is full has this message dropped; the subscription itself is
// never closed for slowness (Testable Property 8).
func (b *Broker) Publish(rec decode.Record) Event {
	b.mu.Lock()
	b.nextID++
	ev := Event{ID: b.nextID, Record: rec}
	if b.replay != nil {
		b.replay.Add(ev.ID, ev)
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			b.logger.Debug("broker: dropping event for slow subscriber")
		}
	}
	return ev
}

// ReplaySince returns every cached event with id strictly greater than
// lastID, oldest first, for SSE Last-Event-ID resumption.
func (b *Broker) ReplaySince(lastID uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.replay == nil {
		return nil
	}

	var out []Event
	for _, key := range b.replay.Keys() {
		id, ok := key.(uint64)
		if !ok || id <= lastID {
			continue
		}
		if v, ok := b.replay.Get(id); ok {
			out = append(out, v.(Event))
		}
	}
	// lru.Keys() is oldest-first already; sort defensively by id since
	// eviction order and insertion order can diverge under heavy replace.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ID > out[j].ID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// SubscriberCount returns the current number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
