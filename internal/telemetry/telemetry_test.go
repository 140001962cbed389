package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/config"
)

func testConfig(t *testing.T, udpPort, tcpPort, apiPort int) config.Config {
	t.Helper()
	return config.Config{
		Role:                      config.RoleAuto,
		NodeID:                    "test-node",
		RemoteIP:                  "127.0.0.1",
		UDPPort:                   udpPort,
		TCPPort:                   tcpPort,
		BatchMax:                  5,
		BatchTimeout:              20 * time.Millisecond,
		RingAge:                   time.Minute,
		MissingMax:                100,
		ResyncThreshold:           200,
		RecoveryPeriod:            time.Hour, // disabled for this test
		RecoveryBatchMax:          10,
		HistLimit:                 100,
		SubscriberQueueMax:        16,
		ReplayCacheSize:           16,
		RedisChannel:              "can_messages",
		StatsChannel:              "system_stats",
		PipePath:                  filepath.Join(t.TempDir(), "can_data_pipe"),
		APIHost:                   "127.0.0.1",
		APIPort:                   apiPort,
		APIReadTimeout:            5 * time.Second,
		APIWriteTimeout:           5 * time.Second,
		APIIdleTimeout:            5 * time.Second,
		RecoveryCompressThreshold: 2048,
		APIRateLimitRPS:           1000,
		APIRateLimitBurst:         1000,
		Simulate:                  true,
		LogLevel:                  "info",
	}
}

// TestAutoRoleWiresCarAndBaseSides smoke-tests that an "auto" role process
// starts its ingest, recovery server, receiver, and API actors without
// error, and that the base side observes the car side's reported ingest
// mode instead of the "remote" placeholder.
func TestAutoRoleWiresCarAndBaseSides(t *testing.T) {
	cfg := testConfig(t, 15005, 15006, 19998)
	logger := zap.NewNop()
	stop := make(chan struct{})
	defer close(stop)

	car, err := runCarSide(cfg, logger, stop)
	require.NoError(t, err)
	require.Equal(t, "simulated", car.source.Mode())

	mode := func() string { return car.source.Mode() }
	base, err := runBaseSide(cfg, logger, mode, stop)
	require.NoError(t, err)
	require.NotNil(t, base.history)
	require.NotNil(t, base.broker)
	require.Equal(t, "simulated", mode())
}

// TestBaseRoleAloneReportsRemoteMode mirrors the role-base deployment: no
// car-side actor runs in this process, so /health must advertise the
// fixed placeholder rather than probing a source that doesn't exist here.
func TestBaseRoleAloneReportsRemoteMode(t *testing.T) {
	cfg := testConfig(t, 15015, 15016, 19999)
	logger := zap.NewNop()
	stop := make(chan struct{})
	defer close(stop)

	mode := func() string { return "remote" }
	base, err := runBaseSide(cfg, logger, mode, stop)
	require.NoError(t, err)
	require.NotNil(t, base.recv)
	require.Equal(t, "remote", mode())
}
