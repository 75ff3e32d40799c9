package api

import (
	"net/http"

	"github.com/seantiz/porter/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listLaunchesResponse wraps the launch history response.
type listLaunchesResponse struct {
	Launches []*model.LaunchRecord `json:"launches"`
	Limit    int                   `json:"limit"`
}

func (s *Server) handleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.Status(r.Context())
	if err != nil {
		s.logger.Error("gateway status", "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to inspect sandbox")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGatewayRestart(w http.ResponseWriter, r *http.Request) {
	result, err := s.manager.Restart(r.Context())
	if err != nil {
		s.logger.Error("gateway restart", "error", err)
		s.writeStartupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListLaunches(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	launches, err := s.store.ListLaunches(r.Context(), limit)
	if err != nil {
		s.logger.Error("list launches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list launches")
		return
	}
	if launches == nil {
		launches = []*model.LaunchRecord{}
	}

	s.writeJSON(w, http.StatusOK, listLaunchesResponse{Launches: launches, Limit: limit})
}
