// Package api exposes the pull (history query) and push (SSE/WebSocket
// live tail) surfaces described in spec.md §4.7/§6 over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wfr/daq-telemetry/internal/broker"
	"github.com/wfr/daq-telemetry/internal/decode"
)

// Server owns the HTTP mux and the collaborators handlers read from. It
// holds no mutable telemetry state itself — History and Broker are the
// sole owners of theirs.
type Server struct {
	cfg Config

	router  *mux.Router
	httpSrv *http.Server
	logger  *zap.Logger

	history *decode.History
	broker  *broker.Broker

	mode      func() string
	startTime time.Time

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// Config carries the subset of config.Config the API server needs,
// kept narrow so the package doesn't import internal/config directly.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateRPS      float64
	RateBurst    int
}

// New builds a Server. mode reports the active CAN ingest mode string
// used by /health (e.g. "zmq" or "simulated").
func New(cfg Config, history *decode.History, br *broker.Broker, mode func() string, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		history:   history,
		broker:    br,
		mode:      mode,
		limiters:  make(map[string]*rate.Limiter),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/api/messages", s.rateLimited(s.messagesHandler)).Methods(http.MethodGet)
	r.Handle("/api/import", s.rateLimited(s.importHandler)).Methods(http.MethodPost)
	r.HandleFunc("/api/stream", s.streamHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/ws", s.wsHandler).Methods(http.MethodGet)
	s.router = r

	return s
}

// Run starts the HTTP server and blocks until stop is closed, then shuts
// down gracefully (spec.md §5's cancellation rules apply uniformly across
// actors; the API server drains in-flight requests for up to 5 seconds).
func (s *Server) Run(stop <-chan struct{}) error {
	s.startTime = time.Now()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("api: shutdown error", zap.Error(err))
		}
	}()

	s.logger.Info("api: listening", zap.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
