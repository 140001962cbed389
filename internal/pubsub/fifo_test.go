package pubsub

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFIFOBackendPublishSubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "can_data_pipe")
	b, err := NewFIFOBackend(path, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	ch, cancel := b.Subscribe("can_messages")
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.Publish("can_messages", []byte(`{"hello":"world"}`))
	}()

	select {
	case payload := <-ch:
		require.JSONEq(t, `{"hello":"world"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("expected delivered payload")
	}
	require.NoError(t, <-done)
}

func TestFIFOBackendIgnoresOtherChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "can_data_pipe")
	b, err := NewFIFOBackend(path, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	ch, cancel := b.Subscribe("system_stats")
	defer cancel()

	go b.Publish("can_messages", []byte("irrelevant"))

	select {
	case <-ch:
		t.Fatal("did not expect delivery on unrelated channel")
	case <-time.After(200 * time.Millisecond):
	}
}
