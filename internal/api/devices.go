package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/porter/internal/sandbox"
)

const deviceExecTimeoutS = 30

// handleListDevices shells out to the gateway CLI inside the sandbox. The
// gateway owns device pairing state; this endpoint is a passthrough, so the
// gateway must be up first.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.EnsureReady(r.Context()); err != nil {
		s.writeStartupError(w, err)
		return
	}

	sb := s.sandboxes.Get(s.sandboxName)
	res, err := sb.Exec(r.Context(), sandbox.ExecSpec{
		Command:  []string{"gateway", "devices", "list", "--json"},
		TimeoutS: deviceExecTimeoutS,
	})
	if err != nil {
		s.logger.Error("list devices", "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to reach sandbox")
		return
	}
	if res.ExitCode != 0 {
		s.logger.Error("list devices", "exit_code", res.ExitCode, "stderr", res.Stderr)
		s.writeError(w, http.StatusBadGateway, "device listing failed")
		return
	}

	// The CLI already emits JSON; pass it through untouched.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(res.Stdout)); err != nil {
		s.logger.Error("write device list", "error", err)
	}
}

func (s *Server) handleApproveDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "device id is required")
		return
	}

	if err := s.manager.EnsureReady(r.Context()); err != nil {
		s.writeStartupError(w, err)
		return
	}

	sb := s.sandboxes.Get(s.sandboxName)
	res, err := sb.Exec(r.Context(), sandbox.ExecSpec{
		Command:  []string{"gateway", "devices", "approve", id},
		TimeoutS: deviceExecTimeoutS,
	})
	if err != nil {
		s.logger.Error("approve device", "device_id", id, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to reach sandbox")
		return
	}
	if res.ExitCode != 0 {
		s.logger.Error("approve device", "device_id", id, "exit_code", res.ExitCode, "stderr", res.Stderr)
		s.writeError(w, http.StatusBadGateway, "device approval failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"device_id": id,
		"output":    strings.TrimSpace(res.Stdout),
	})
}
