package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/broker"
	"github.com/wfr/daq-telemetry/internal/dbc"
	"github.com/wfr/daq-telemetry/internal/decode"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	history := decode.New(dbc.NullDecoder{}, 100)
	br := broker.New(10, 10, zap.NewNop())
	cfg := Config{RateRPS: 1000, RateBurst: 1000}
	return New(cfg, history, br, func() string { return "simulated" }, zap.NewNop())
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Healthy (simulated)", body.Health)
}

func TestImportThenQuery(t *testing.T) {
	s := newTestServer(t)

	payload := map[string]interface{}{
		"id":   "0x123",
		"data": []int{1, 2, 3, 4, 5, 6, 7, 8},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/import", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/messages?filter_mode=all", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []apiRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, uint32(0x123), records[0].CanID)
	require.Equal(t, "Raw", records[0].MessageName)
}

func TestImportRejectsMalformedID(t *testing.T) {
	s := newTestServer(t)

	payload := map[string]interface{}{"id": "not-a-number", "data": []int{1}}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/import", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var detail map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.NotEmpty(t, detail["detail"])
}

func TestMessagesRejectsMalformedCanID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/messages?can_id=not-valid", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitExceeded(t *testing.T) {
	history := decode.New(dbc.NullDecoder{}, 100)
	br := broker.New(10, 10, zap.NewNop())
	cfg := Config{RateRPS: 0.001, RateBurst: 1}
	s := New(cfg, history, br, func() string { return "simulated" }, zap.NewNop())

	ok := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	recOK := httptest.NewRecorder()
	s.router.ServeHTTP(recOK, ok)
	require.Equal(t, http.StatusOK, recOK.Code)

	blocked := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	recBlocked := httptest.NewRecorder()
	s.router.ServeHTTP(recBlocked, blocked)
	require.Equal(t, http.StatusTooManyRequests, recBlocked.Code)
}

func TestStreamHandlerSendsConnectedPreamble(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.router.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return bytes.Contains(rec.Body.Bytes(), []byte(": connected"))
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not exit after context cancellation")
	}
}
