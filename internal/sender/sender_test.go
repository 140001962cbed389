package sender

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/canbus"
	"github.com/wfr/daq-telemetry/internal/ring"
)

type recordingTransmitter struct {
	mu       sync.Mutex
	datagram [][]byte
}

func (t *recordingTransmitter) Send(datagram []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := append([]byte(nil), datagram...)
	t.datagram = append(t.datagram, cp)
	return nil
}

func (t *recordingTransmitter) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.datagram)
}

func TestSenderEmitsOnBatchMax(t *testing.T) {
	tx := &recordingTransmitter{}
	r := ring.New(time.Minute)
	s := New(tx, r, 1, time.Hour, zap.NewNop())

	in := make(chan canbus.Observation, 1)
	stop := make(chan struct{})
	go s.Run(in, stop)

	in <- canbus.Observation{Timestamp: 1.0, CanID: 0x123, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}}

	require.Eventually(t, func() bool { return tx.count() == 1 }, time.Second, time.Millisecond)
	close(stop)

	batch, ok := r.Lookup(1)
	require.True(t, ok)
	require.Len(t, batch.Frames, 1)
	require.Equal(t, uint32(0x123), batch.Frames[0].CanID)
}

func TestSenderEmitsOnTimeout(t *testing.T) {
	tx := &recordingTransmitter{}
	r := ring.New(time.Minute)
	s := New(tx, r, 20, 20*time.Millisecond, zap.NewNop())

	in := make(chan canbus.Observation, 10)
	stop := make(chan struct{})
	go s.Run(in, stop)

	for i := 0; i < 5; i++ {
		in <- canbus.Observation{Timestamp: 0, CanID: uint32(i), Payload: nil}
	}

	require.Eventually(t, func() bool { return tx.count() == 1 }, time.Second, time.Millisecond)
	close(stop)

	batch, ok := r.Lookup(1)
	require.True(t, ok)
	require.Len(t, batch.Frames, 5)
}

func TestSenderSequenceIsMonotonicFromOne(t *testing.T) {
	tx := &recordingTransmitter{}
	r := ring.New(time.Minute)
	s := New(tx, r, 1, time.Hour, zap.NewNop())

	in := make(chan canbus.Observation, 3)
	stop := make(chan struct{})
	go s.Run(in, stop)

	for i := 0; i < 3; i++ {
		in <- canbus.Observation{Timestamp: 0, CanID: uint32(i), Payload: nil}
	}
	require.Eventually(t, func() bool { return tx.count() == 3 }, time.Second, time.Millisecond)
	close(stop)

	for seq := uint64(1); seq <= 3; seq++ {
		_, ok := r.Lookup(seq)
		require.True(t, ok)
	}
}

func TestSenderFlushesPendingOnStop(t *testing.T) {
	tx := &recordingTransmitter{}
	r := ring.New(time.Minute)
	s := New(tx, r, 20, time.Hour, zap.NewNop())

	in := make(chan canbus.Observation, 1)
	stop := make(chan struct{})
	go s.Run(in, stop)

	in <- canbus.Observation{Timestamp: 0, CanID: 1, Payload: nil}
	time.Sleep(20 * time.Millisecond)
	close(stop)

	require.Eventually(t, func() bool { return tx.count() == 1 }, time.Second, time.Millisecond)
	_, ok := r.Lookup(1)
	require.True(t, ok)
}
