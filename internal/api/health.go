package api

import (
	"net/http"
)

// healthResponse reports liveness together with a summary of the grid as
// seen from this node.
type healthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
	Nodes  int    `json:"nodes"`
	Active int    `json:"active_tasks"`
}

// handleHealthz reports "draining" with a 200 while a graceful shutdown
// waits for live tasks.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.engine.Draining() {
		status = "draining"
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status: status,
		NodeID: s.engine.NodeID(),
		Nodes:  len(s.members.Topology().Nodes),
		Active: len(s.engine.Active()),
	})
}
