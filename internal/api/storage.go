package api

import (
	"context"
	"net/http"

	"github.com/seantiz/porter/internal/model"
)

// listSyncRunsResponse wraps the sync history response.
type listSyncRunsResponse struct {
	Syncs []*model.SyncRun `json:"syncs"`
	Limit int              `json:"limit"`
}

func (s *Server) handleStorageStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.syncer.Status(r.Context()))
}

// handleTriggerSync starts a sync run in the background. The run can take up
// to its full budget, so the request returns immediately; outcome lands in
// the sync history.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	go s.syncer.Run(context.Background())
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleListSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	runs, err := s.store.ListSyncRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list sync runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list sync runs")
		return
	}
	if runs == nil {
		runs = []*model.SyncRun{}
	}

	s.writeJSON(w, http.StatusOK, listSyncRunsResponse{Syncs: runs, Limit: limit})
}
