package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	Active        int            `json:"active"`
	Live          int            `json:"live"`
	ByPhase       map[string]int `json:"by_phase"`
	ByKind        map[string]int `json:"by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetWatchStats(r.Context())
	if err != nil {
		s.logger.Error("get watch stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		Active:        stats.Active,
		Live:          len(s.watches.List()),
		ByPhase:       stats.CountByPhase,
		ByKind:        stats.CountByKind,
		AvgDurationMS: stats.AvgDurationMS,
	})
}
