package agent

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seantiz/porter/internal/sandbox"
)

const maxBodySize = 1 << 20 // 1 MB

// Router returns the agent's HTTP API.
func (a *Agent) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/processes", a.handleStartProcess)
		r.Get("/processes", a.handleListProcesses)
		r.Get("/processes/{id}", a.handleGetProcess)
		r.Post("/processes/{id}/kill", a.handleKillProcess)
		r.Post("/exec", a.handleExec)
	})
	return r
}

func (a *Agent) handleHealthz(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Agent) handleStartProcess(w http.ResponseWriter, r *http.Request) {
	var spec sandbox.ProcessSpec
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(spec.Command) == 0 {
		a.writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	snap, err := a.Start(spec)
	if err != nil {
		a.logger.Error("start process", "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to start process")
		return
	}
	a.writeJSON(w, http.StatusCreated, snap)
}

func (a *Agent) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{"processes": a.List()})
}

func (a *Agent) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.Get(chi.URLParam(r, "id"))
	if !ok {
		a.writeError(w, http.StatusNotFound, "process not found")
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *Agent) handleKillProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := a.Get(id); !ok {
		a.writeError(w, http.StatusNotFound, "process not found")
		return
	}
	if err := a.Kill(id); err != nil {
		a.logger.Error("kill process", "process_id", id, "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to kill process")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleExec(w http.ResponseWriter, r *http.Request) {
	var spec sandbox.ExecSpec
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(spec.Command) == 0 {
		a.writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	result, err := a.Exec(r.Context(), spec)
	if err != nil {
		a.logger.Error("exec command", "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to run command")
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *Agent) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", "error", err)
	}
}

func (a *Agent) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]string{"error": message})
}
