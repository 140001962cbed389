// Package decode turns raw CAN frames into decoded records via an
// injected dbc.Decoder, appends them to a bounded in-memory history, and
// serves filtered pull queries over that history.
package decode

import (
	"math"
	"sync"
	"time"

	"github.com/wfr/daq-telemetry/internal/dbc"
	"github.com/wfr/daq-telemetry/internal/wire"
)

// DefaultHistLimit is the default cap on retained records.
const DefaultHistLimit = 1000

// Record is a decoded CAN frame with dual timestamps, ready for history
// storage and query.
type Record struct {
	CanID             uint32
	MessageName       string
	Signals           map[string]interface{}
	RawData           [wire.PayloadLen]byte
	Error             string
	TimestampSource   time.Time
	TimestampReceived time.Time
}

// History is the Decoder's bounded, thread-safe store of decoded records.
type History struct {
	mu      sync.RWMutex
	limit   int
	records []Record
	decoder dbc.Decoder
}

// New builds a History backed by decoder, capped at limit records (the
// default is used when limit <= 0).
func New(decoder dbc.Decoder, limit int) *History {
	if limit <= 0 {
		limit = DefaultHistLimit
	}
	return &History{limit: limit, decoder: decoder}
}

// Decode decodes a single frame and appends the resulting record to
// history, evicting the oldest record if the history is at capacity.
// Decode never drops a frame: a decode failure is recorded as an error
// field rather than skipping the append (Testable Property 9).
func (h *History) Decode(f wire.Frame) Record {
	dr := h.decoder.Decode(f.CanID, f.Payload[:])

	rec := Record{
		CanID:             f.CanID,
		MessageName:       dr.MessageName,
		Signals:           dr.Signals,
		RawData:           f.Payload,
		Error:             dr.Error,
		TimestampSource:   sourceTime(f.Timestamp),
		TimestampReceived: time.Now(),
	}

	h.append(rec)
	return rec
}

func sourceTime(ts float64) time.Time {
	if math.IsNaN(ts) || ts < 0 {
		return time.Now()
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func (h *History) append(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	if over := len(h.records) - h.limit; over > 0 {
		h.records = h.records[over:]
	}
}

// Len returns the current number of retained records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// FilterMode selects the query window applied before the optional
// can_id/message_name/glob filters.
type FilterMode string

const (
	FilterAll           FilterMode = "all"
	FilterCount         FilterMode = "count"
	FilterReceivedTime  FilterMode = "received_time"
	FilterOriginalTime  FilterMode = "original_time"
)

// Query describes one pull request over history.
type Query struct {
	Mode             FilterMode
	TimeRange        int
	CanID            *uint32
	MessageName      string
	MessageNameGlob  string
	Limit            int
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 500
)

// Run evaluates q against the current snapshot of history, returning
// records newest-first, truncated to q.Limit (default 100, max 500).
func (h *History) Run(q Query, globMatch func(pattern, name string) bool) []Record {
	h.mu.RLock()
	snapshot := make([]Record, len(h.records))
	copy(snapshot, h.records)
	h.mu.RUnlock()

	now := time.Now()
	var windowed []Record

	switch q.Mode {
	case FilterCount:
		n := q.TimeRange
		if n <= 0 || n > len(snapshot) {
			n = len(snapshot)
		}
		windowed = snapshot[len(snapshot)-n:]
	case FilterReceivedTime:
		cutoff := now.Add(-time.Duration(q.TimeRange) * time.Second)
		for _, r := range snapshot {
			if !r.TimestampReceived.Before(cutoff) {
				windowed = append(windowed, r)
			}
		}
	case FilterOriginalTime:
		cutoff := now.Add(-time.Duration(q.TimeRange) * time.Second)
		for _, r := range snapshot {
			if !r.TimestampSource.Before(cutoff) {
				windowed = append(windowed, r)
			}
		}
	default: // FilterAll and anything unrecognized behaves as "all"
		windowed = snapshot
	}

	filtered := windowed[:0:0]
	for _, r := range windowed {
		if q.CanID != nil && r.CanID != *q.CanID {
			continue
		}
		if q.MessageName != "" && r.MessageName != q.MessageName {
			continue
		}
		if q.MessageNameGlob != "" && globMatch != nil && !globMatch(q.MessageNameGlob, r.MessageName) {
			continue
		}
		filtered = append(filtered, r)
	}

	// Reverse to newest-first.
	reversed := make([]Record, len(filtered))
	for i, r := range filtered {
		reversed[len(filtered)-1-i] = r
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	if limit < len(reversed) {
		reversed = reversed[:limit]
	}
	return reversed
}
