package telemetry

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/api"
	"github.com/wfr/daq-telemetry/internal/broker"
	"github.com/wfr/daq-telemetry/internal/config"
	"github.com/wfr/daq-telemetry/internal/decode"
	"github.com/wfr/daq-telemetry/internal/metrics"
	"github.com/wfr/daq-telemetry/internal/pubsub"
	"github.com/wfr/daq-telemetry/internal/receiver"
	"github.com/wfr/daq-telemetry/internal/recovery"
	"github.com/wfr/daq-telemetry/internal/stats"
	"github.com/wfr/daq-telemetry/internal/wire"
)

// baseSide owns the gap-tracking receiver, decode history, broker, stats
// publisher, and query/stream HTTP surface.
type baseSide struct {
	history *decode.History
	broker  *broker.Broker
	recv    *receiver.Receiver
}

// runBaseSide launches every base-side actor in its own goroutine and
// returns; the actors run until stop is closed. mode reports the ingest mode string /health advertises: when this
// process also runs the car side (role "auto") it is the real source
// mode, otherwise it is the fixed string "remote" since ingest happens
// on a different node this process has no direct visibility into.
func runBaseSide(cfg config.Config, logger *zap.Logger, mode func() string, stop <-chan struct{}) (*baseSide, error) {
	decoder := loadDecoder(cfg, logger)
	history := decode.New(decoder, cfg.HistLimit)
	br := broker.New(cfg.SubscriberQueueMax, cfg.ReplayCacheSize, logger)
	recv := receiver.New(cfg.MissingMax, cfg.ResyncThreshold, logger)

	backend, err := pubsub.NewFIFOBackend(cfg.PipePath, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open pubsub backend: %w", err)
	}
	go func() {
		<-stop
		backend.Close()
	}()

	statsPub := stats.NewPublisher(backend, cfg.StatsChannel, recv.MissingCount, logger)
	go statsPub.Run(stop)

	publishQueue := make(chan []byte, 1024)
	go runPublishWorker(backend, cfg.RedisChannel, publishQueue, logger, stop)

	listener, err := receiver.Listen(cfg.UDPPort)
	if err != nil {
		return nil, fmt.Errorf("telemetry: listen udp: %w", err)
	}
	go func() {
		<-stop
		listener.Close()
	}()

	handle := func(datagram []byte) {
		frames, reason, _ := recv.Handle(datagram)
		if reason != "" {
			metrics.DatagramsDropped.WithLabelValues(string(reason)).Inc()
			return
		}
		decodeAndPublish(frames, history, br, statsPub, publishQueue)
	}
	go listener.Run(handle, stop)

	remoteTCP := fmt.Sprintf("%s:%d", cfg.RemoteIP, cfg.TCPPort)
	recClient := recovery.NewClient(remoteTCP, cfg.RecoveryPeriod, cfg.RecoveryBatchMax, logger)
	inject := func(seq uint64, frames []wire.Frame) {
		decodeAndPublish(frames, history, br, statsPub, publishQueue)
		for range frames {
			statsPub.Emit(stats.Recovered)
		}
	}
	go recClient.Run(recv, inject, stop)

	go reportHistoryAndSubscriberSize(history, br, stop)

	apiCfg := api.Config{
		Host:         cfg.APIHost,
		Port:         cfg.APIPort,
		ReadTimeout:  cfg.APIReadTimeout,
		WriteTimeout: cfg.APIWriteTimeout,
		IdleTimeout:  cfg.APIIdleTimeout,
		RateRPS:      cfg.APIRateLimitRPS,
		RateBurst:    cfg.APIRateLimitBurst,
	}
	apiServer := api.New(apiCfg, history, br, mode, logger)
	go func() {
		if err := apiServer.Run(stop); err != nil {
			logger.Error("telemetry: api server exited", zap.Error(err))
		}
	}()

	logger.Info("telemetry: base side running",
		zap.Int("udp_port", cfg.UDPPort),
		zap.String("recovery_server", remoteTCP),
		zap.String("api_addr", fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)))

	return &baseSide{history: history, broker: br, recv: recv}, nil
}

func decodeAndPublish(frames []wire.Frame, history *decode.History, br *broker.Broker, statsPub *stats.Publisher, publishQueue chan<- []byte) {
	for _, f := range frames {
		rec := history.Decode(f)
		br.Publish(rec)
		metrics.FramesReceived.WithLabelValues("base").Inc()
		statsPub.Emit(stats.Received)
	}

	payload, err := marshalCanMessages(frames)
	if err != nil || payload == nil {
		return
	}
	select {
	case publishQueue <- payload:
	default:
	}
}

// runPublishWorker decouples the hot decode path from FIFOBackend.Publish,
// which blocks opening its write handle until a reader attaches.
func runPublishWorker(backend pubsub.Backend, channel string, queue <-chan []byte, logger *zap.Logger, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case payload := <-queue:
			if err := backend.Publish(channel, payload); err != nil {
				logger.Debug("telemetry: can_messages publish failed", zap.Error(err))
			}
		}
	}
}

func reportHistoryAndSubscriberSize(history *decode.History, br *broker.Broker, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			metrics.HistorySize.Set(float64(history.Len()))
			metrics.SubscriberCount.Set(float64(br.SubscriberCount()))
		}
	}
}
