package api

import (
	"net/http"

	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/deploy"
)

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	top := s.members.Topology()
	if top.Nodes == nil {
		top.Nodes = []cluster.Node{}
	}
	s.writeJSON(w, http.StatusOK, top)
}

// listDeploymentsResponse is the JSON response for GET /v1/deployments.
type listDeploymentsResponse struct {
	Deployments []deploy.Info `json:"deployments"`
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	infos := s.deployments.List()
	if infos == nil {
		infos = []deploy.Info{}
	}
	s.writeJSON(w, http.StatusOK, listDeploymentsResponse{Deployments: infos})
}
