// Command telemetryd runs one side of the car/base telemetry link: the
// car node's CAN ingest + batching + recovery server, the base node's
// receiver + decode + broker + HTTP API, or both in a single process
// for bench/demo use.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wfr/daq-telemetry/internal/config"
	"github.com/wfr/daq-telemetry/internal/telemetry"
)

var flags struct {
	role        string
	nodeID      string
	remoteIP    string
	udpPort     int
	tcpPort     int
	apiPort     int
	zmqEndpoint string
	simulate    bool
	dbcFile     string
	logLevel    string
}

var rootCmd = &cobra.Command{
	Use:   "telemetryd",
	Short: "Instrumented-vehicle CAN telemetry daemon",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.role, "role", "", "node role: car, base, or auto (overrides ROLE)")
	f.StringVar(&flags.nodeID, "node-id", "", "node identifier (overrides NODE_ID)")
	f.StringVar(&flags.remoteIP, "remote-ip", "", "peer node address (overrides REMOTE_IP)")
	f.IntVar(&flags.udpPort, "udp-port", 0, "telemetry datagram port (overrides UDP_PORT)")
	f.IntVar(&flags.tcpPort, "tcp-port", 0, "recovery server port (overrides TCP_PORT)")
	f.IntVar(&flags.apiPort, "api-port", 0, "HTTP API port (overrides API_PORT)")
	f.StringVar(&flags.zmqEndpoint, "zmq-endpoint", "", "ZeroMQ PUB endpoint for CAN ingest (overrides ZMQ_ENDPOINT)")
	f.BoolVar(&flags.simulate, "simulate", false, "force the simulated CAN source regardless of ZMQ_ENDPOINT")
	f.StringVar(&flags.dbcFile, "dbc-file", "", "path to a DBC signal definition file (overrides DBC_FILE)")
	f.StringVar(&flags.logLevel, "log-level", "", "zap log level: debug, info, warn, error (overrides LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "telemetryd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	applyFlagOverrides(&cfg)

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("telemetryd: build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := telemetry.Run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("telemetryd: %w", err)
	}
	return nil
}

func applyFlagOverrides(cfg *config.Config) {
	if flags.role != "" {
		cfg.Role = config.Role(flags.role)
	}
	if flags.nodeID != "" {
		cfg.NodeID = flags.nodeID
	}
	if flags.remoteIP != "" {
		cfg.RemoteIP = flags.remoteIP
	}
	if flags.udpPort != 0 {
		cfg.UDPPort = flags.udpPort
	}
	if flags.tcpPort != 0 {
		cfg.TCPPort = flags.tcpPort
	}
	if flags.apiPort != 0 {
		cfg.APIPort = flags.apiPort
	}
	if flags.zmqEndpoint != "" {
		cfg.ZMQEndpoint = flags.zmqEndpoint
	}
	if flags.simulate {
		cfg.Simulate = true
	}
	if flags.dbcFile != "" {
		cfg.DBCFile = flags.dbcFile
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
