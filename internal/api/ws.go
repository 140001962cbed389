package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// wsHandler implements GET /api/ws: a bidirectional-socket alternative to
// the SSE live tail, reading from the same broker subscription
// abstraction (SPEC_FULL.md §4.7 ADD). The socket is write-only from the
// server's perspective; any client message is discarded.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("api: ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub, cancel := s.broker.Subscribe(r.Context())
	defer cancel()

	go discardReads(conn, cancel)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			body, err := json.Marshal(toAPIRecord(ev.Record))
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		}
	}
}

// discardReads drains client frames so the connection's read pump stays
// alive (required by gorilla/websocket to process control frames like
// ping/close); it cancels the subscription once the client disconnects.
func discardReads(conn *websocket.Conn, cancel func()) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
