package canbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFallsBackToSimulatorWhenNoEndpoint(t *testing.T) {
	src := New("", false, zap.NewNop())
	require.Equal(t, "simulated", src.Mode())
}

func TestNewForcesSimulatorWhenRequested(t *testing.T) {
	src := New("tcp://127.0.0.1:5555", true, zap.NewNop())
	require.Equal(t, "simulated", src.Mode())
}

func TestSimulatorProducesObservations(t *testing.T) {
	src := newSimulator(zap.NewNop())
	out := make(chan Observation, 16)
	go src.Run(out)
	defer src.Stop()

	select {
	case obs := <-out:
		require.Contains(t, simulatedIDs, obs.CanID)
		require.Len(t, obs.Payload, 8)
	case <-time.After(time.Second):
		t.Fatal("simulator produced no observations")
	}
}
