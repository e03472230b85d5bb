package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ad-automation-engine/internal/scheduler"
	"ad-automation-engine/internal/store"
	"ad-automation-engine/internal/telemetry"
)

// Server exposes the engine control surface and the read surface for
// the seller portal and admin console.
type Server struct {
	controller *scheduler.Controller
	store      store.RuleStore
}

// New constructs the HTTP server.
func New(controller *scheduler.Controller, st store.RuleStore) *Server {
	return &Server{controller: controller, store: st}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/engine/start", s.handleStart)
	r.Post("/engine/stop", s.handleStop)
	r.Post("/engine/restart", s.handleRestart)
	r.Get("/engine/status", s.handleStatus)

	r.Get("/rules", s.handleListRules)
	r.Get("/rules/{id}", s.handleGetRule)
	r.Get("/rules/{id}/executions", s.handleListExecutions)
	return r
}

// stateResponse is the wire shape of the engine state.
type stateResponse struct {
	Running              bool   `json:"running"`
	CheckIntervalSeconds int    `json:"check_interval_seconds"`
	NextCheck            string `json:"next_check,omitempty"`
}

func toStateResponse(st scheduler.State) stateResponse {
	resp := stateResponse{
		Running:              st.Running,
		CheckIntervalSeconds: int(st.CheckInterval / time.Second),
	}
	if !st.NextCheck.IsZero() {
		resp.NextCheck = st.NextCheck.UTC().Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStateResponse(s.controller.Start()))
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStateResponse(s.controller.Stop()))
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStateResponse(s.controller.Restart()))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStateResponse(s.controller.Status()))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	rules, err := s.store.ListRules(r.Context(), owner)
	if err != nil {
		http.Error(w, "failed to list rules", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := s.store.GetRule(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "rule not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load rule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if _, err := s.store.GetRule(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		http.Error(w, "rule not found", http.StatusNotFound)
		return
	}
	records, err := s.store.ListExecutions(r.Context(), id, limit)
	if err != nil {
		http.Error(w, "failed to list executions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": records})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
