package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Role selects which side of the car↔base link this process runs as.
type Role string

const (
	RoleCar  Role = "car"
	RoleBase Role = "base"
	RoleAuto Role = "auto"
)

// Config holds every tunable named in §4/§5/§6 of the specification plus
// the ambient knobs the rewrite adds (SPEC_FULL.md §6).
type Config struct {
	Role     Role
	NodeID   string
	RemoteIP string

	UDPPort int
	TCPPort int

	// Sender tunables (§4.3)
	BatchMax     int
	BatchTimeout time.Duration
	RingAge      time.Duration

	// Receiver tunables (§4.4)
	MissingMax      int
	ResyncThreshold int

	// Recovery tunables (§4.5)
	RecoveryPeriod   time.Duration
	RecoveryBatchMax int

	// Decoder/history (§4.6)
	HistLimit int
	DBCFile   string

	// Broker (§4.7)
	SubscriberQueueMax int
	ReplayCacheSize    int

	// Pub/sub backend (§9 ADD — polymorphic Publish/Subscribe surface)
	RedisURL     string
	RedisChannel string
	StatsChannel string
	PipePath     string

	// HTTP/API server
	APIHost                   string
	APIPort                   int
	APIReadTimeout            time.Duration
	APIWriteTimeout           time.Duration
	APIIdleTimeout            time.Duration
	RecoveryCompressThreshold int
	APIRateLimitRPS           float64
	APIRateLimitBurst         int

	// CAN ingest adapter
	ZMQEndpoint string
	Simulate    bool

	LogLevel string
}

// Load builds a Config from environment variables, loading an optional
// .env file first (a missing .env is not an error).
func Load() Config {
	loadEnvironmentConfig()

	missingMax := getEnvInt("MISSING_MAX", 1000)

	cfg := Config{
		Role:     Role(strings.ToLower(getEnv("ROLE", "auto"))),
		NodeID:   getEnv("NODE_ID", hostnameOrDefault()),
		RemoteIP: getEnv("REMOTE_IP", "127.0.0.1"),

		UDPPort: getEnvInt("UDP_PORT", 5005),
		TCPPort: getEnvInt("TCP_PORT", 5006),

		BatchMax:     getEnvInt("BATCH_MAX", 20),
		BatchTimeout: time.Duration(getEnvInt("BATCH_TIMEOUT_MS", 50)) * time.Millisecond,
		RingAge:      time.Duration(getEnvInt("RING_AGE_SEC", 60)) * time.Second,

		MissingMax:      missingMax,
		ResyncThreshold: getEnvInt("RESYNC_THRESHOLD", 2*missingMax),

		RecoveryPeriod:   time.Duration(getEnvInt("RECOVERY_PERIOD_SEC", 10)) * time.Second,
		RecoveryBatchMax: getEnvInt("RECOVERY_BATCH_MAX", 100),

		HistLimit: getEnvInt("MESSAGE_HISTORY_LIMIT", 1000),
		DBCFile:   getEnv("DBC_FILE", ""),

		SubscriberQueueMax: getEnvInt("SUBSCRIBER_QUEUE_MAX", 1000),
		ReplayCacheSize:    getEnvInt("REPLAY_CACHE_SIZE", 256),

		RedisURL:     getEnv("REDIS_URL", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "can_messages"),
		StatsChannel: getEnv("STATS_CHANNEL", "system_stats"),
		PipePath:     getEnv("PIPE_PATH", "/tmp/can_data_pipe"),

		APIHost:                   getEnv("API_HOST", "0.0.0.0"),
		APIPort:                   getEnvInt("API_PORT", 9998),
		APIReadTimeout:            time.Duration(getEnvInt("API_READ_TIMEOUT_SEC", 30)) * time.Second,
		APIWriteTimeout:           time.Duration(getEnvInt("API_WRITE_TIMEOUT_SEC", 60)) * time.Second,
		APIIdleTimeout:            time.Duration(getEnvInt("API_IDLE_TIMEOUT_SEC", 120)) * time.Second,
		RecoveryCompressThreshold: getEnvInt("RECOVERY_COMPRESS_THRESHOLD", 2048),
		APIRateLimitRPS:           getEnvFloat("API_RATE_LIMIT_RPS", 20.0),
		APIRateLimitBurst:         getEnvInt("API_RATE_LIMIT_BURST", 40),

		ZMQEndpoint: getEnv("ZMQ_ENDPOINT", ""),
		Simulate:    getEnvBool("SIMULATE", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "telemetry-node"
	}
	return h
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || v == "true"
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

// loadEnvironmentConfig loads an optional .env file. A missing file is not
// an error — the process falls back to whatever is already in the
// environment.
func loadEnvironmentConfig() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env file")
	}
}
