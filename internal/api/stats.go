package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total          int            `json:"total"`
	ByState        map[string]int `json:"by_state"`
	ByTask         map[string]int `json:"by_task"`
	TotalFailovers int            `json:"total_failovers"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
	Active         int            `json:"active"`
	Completed      int64          `json:"completed"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetTaskStats(r.Context())
	if err != nil {
		s.logger.Error("get task stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:          stats.Total,
		ByState:        stats.CountByState,
		ByTask:         stats.CountByTask,
		TotalFailovers: stats.TotalFailovers,
		AvgDurationMS:  stats.AvgDurationMS,
		Active:         len(s.engine.Active()),
		Completed:      s.engine.CompletedTasks(),
	})
}
