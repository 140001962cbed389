package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/wfr/daq-telemetry/internal/decode"
	"github.com/wfr/daq-telemetry/internal/wire"
)

// apiRecord is the JSON shape of a decoded record returned by
// /api/messages, per spec.md §6: timestamps as ISO strings.
type apiRecord struct {
	CanID             uint32                 `json:"can_id"`
	MessageName       string                 `json:"message_name"`
	Signals           map[string]interface{} `json:"signals"`
	RawData           [wire.PayloadLen]byte  `json:"raw_data"`
	Error             string                 `json:"error,omitempty"`
	TimestampSource   string                 `json:"timestamp_source"`
	TimestampReceived string                 `json:"timestamp_received"`
}

func toAPIRecord(r decode.Record) apiRecord {
	return apiRecord{
		CanID:             r.CanID,
		MessageName:       r.MessageName,
		Signals:           r.Signals,
		RawData:           r.RawData,
		Error:             r.Error,
		TimestampSource:   r.TimestampSource.UTC().Format(time.RFC3339Nano),
		TimestampReceived: r.TimestampReceived.UTC().Format(time.RFC3339Nano),
	}
}

// parseCanID accepts a decimal or 0x-prefixed hexadecimal string.
func parseCanID(s string) (uint32, error) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// messagesHandler implements GET /api/messages (spec.md §6).
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := decode.Query{
		Mode:            decode.FilterMode(q.Get("filter_mode")),
		MessageName:     q.Get("message_name"),
		MessageNameGlob: q.Get("message_name_glob"),
	}
	if query.Mode == "" {
		query.Mode = decode.FilterAll
	}
	if tr := q.Get("time_range"); tr != "" {
		n, err := strconv.Atoi(tr)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid time_range")
			return
		}
		query.TimeRange = n
	}
	if lim := q.Get("limit"); lim != "" {
		n, err := strconv.Atoi(lim)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid limit")
			return
		}
		query.Limit = n
	}
	if idStr := q.Get("can_id"); idStr != "" {
		id, err := parseCanID(idStr)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid can_id")
			return
		}
		query.CanID = &id
	}

	records := s.history.Run(query, globMatch)

	out := make([]apiRecord, len(records))
	for i, rec := range records {
		out[i] = toAPIRecord(rec)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func globMatch(pattern, name string) bool {
	g, err := glob.Compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(name)
}

// importRequest is the POST /api/import body (spec.md §6). Data is
// decoded as a JSON array of small integers, not a []byte, since
// encoding/json would otherwise expect a base64 string for []byte.
type importRequest struct {
	ID   string `json:"id"`
	Data []int  `json:"data"`
	Time *int64 `json:"time"`
}

// importHandler implements POST /api/import, the manual-injection testing
// endpoint that exercises the same decode+history+broadcast path as a
// frame arriving over the wire.
func (s *Server) importHandler(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	canID, err := parseCanID(req.ID)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid id: "+err.Error())
		return
	}
	if len(req.Data) == 0 {
		writeDetail(w, http.StatusBadRequest, "data must not be empty")
		return
	}

	ts := float64(time.Now().UnixNano()) / 1e9
	if req.Time != nil {
		ts = float64(*req.Time) / 1000.0
	}

	payload := make([]byte, len(req.Data))
	for i, v := range req.Data {
		payload[i] = byte(v)
	}
	frame := wire.NewFrame(ts, canID, payload)
	rec := s.history.Decode(frame)
	s.broker.Publish(rec)

	w.WriteHeader(http.StatusCreated)
}
