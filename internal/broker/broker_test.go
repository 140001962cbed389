package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/decode"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(10, 10, zap.NewNop())
	sub, cancel := b.Subscribe(context.Background())
	defer cancel()

	b.Publish(decode.Record{CanID: 1})

	select {
	case ev := <-sub.Events():
		require.Equal(t, uint32(1), ev.Record.CanID)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New(1, 10, zap.NewNop())
	slow, cancelSlow := b.Subscribe(context.Background())
	defer cancelSlow()
	fast, cancelFast := b.Subscribe(context.Background())
	defer cancelFast()

	for i := 0; i < 5; i++ {
		b.Publish(decode.Record{CanID: uint32(i)})
		<-fast.Events()
	}

	require.Len(t, slow.Events(), 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(10, 10, zap.NewNop())
	sub, cancel := b.Subscribe(context.Background())
	cancel()

	require.Eventually(t, func() bool {
		_, ok := <-sub.Events()
		return !ok
	}, time.Second, time.Millisecond)
}

func TestReplaySinceReturnsNewerEvents(t *testing.T) {
	b := New(10, 10, zap.NewNop())
	var last uint64
	for i := 0; i < 3; i++ {
		ev := b.Publish(decode.Record{CanID: uint32(i)})
		if i == 0 {
			last = ev.ID
		}
	}

	replay := b.ReplaySince(last)
	require.Len(t, replay, 2)
	require.Equal(t, uint32(1), replay[0].Record.CanID)
	require.Equal(t, uint32(2), replay[1].Record.CanID)
}
