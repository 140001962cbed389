package api

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/process"
)

// healthResponse matches spec.md §6 exactly; the host/process fields are
// additive diagnostic sugar (SPEC_FULL.md §4.10).
type healthResponse struct {
	Health     string  `json:"health"`
	StatusCode int     `json:"status_code"`
	RSSBytes   uint64  `json:"rss_bytes,omitempty"`
	LoadAvg1   float64 `json:"load_avg_1,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Health:     "Healthy (" + s.mode() + ")",
		StatusCode: http.StatusOK,
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			resp.RSSBytes = mem.RSS
		}
	}
	if avg, err := load.Avg(); err == nil && avg != nil {
		resp.LoadAvg1 = avg.Load1
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
