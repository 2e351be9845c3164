// Package api exposes the trainer over HTTP: session lifecycle, command and
// telemetry ingestion, score summaries, and the WebSocket feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/meridianhq/satops-trainer/auth"
	"github.com/meridianhq/satops-trainer/scenario"
	"github.com/meridianhq/satops-trainer/session"
	"github.com/meridianhq/satops-trainer/state"
	"github.com/meridianhq/satops-trainer/telemetry"
	"github.com/meridianhq/satops-trainer/types"
)

// Server is the HTTP surface over a session runner.
type Server struct {
	runner *session.Runner
	store  state.Store
	keys   auth.Store
	hub    http.Handler

	mu        sync.RWMutex
	scenarios map[string]*scenario.Scenario

	requireAuth bool
}

// Option configures a Server.
type Option func(*Server)

// WithAuth enables API-key checks against the given store.
func WithAuth(keys auth.Store) Option {
	return func(s *Server) {
		if keys != nil {
			s.keys = keys
			s.requireAuth = true
		}
	}
}

// WithStore lets read endpoints serve persisted session records.
func WithStore(store state.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithHub mounts the WebSocket feed at /ws.
func WithHub(hub http.Handler) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// New returns a Server over the given runner.
func New(runner *session.Runner, opts ...Option) *Server {
	s := &Server{
		runner:    runner,
		scenarios: map[string]*scenario.Scenario{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddScenario registers a scenario with both the server's catalog and the
// runner.
func (s *Server) AddScenario(sc *scenario.Scenario) error {
	if err := s.runner.RegisterScenario(sc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios[sc.ID] = sc
	return nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/scenarios", s.requireRole(auth.RoleViewer, s.handleListScenarios))
	mux.HandleFunc("POST /api/sessions", s.requireRole(auth.RoleOperator, s.handleStartSession))
	mux.HandleFunc("GET /api/sessions/{id}", s.requireRole(auth.RoleViewer, s.handleGetSession))
	mux.HandleFunc("GET /api/sessions/{id}/summary", s.requireRole(auth.RoleViewer, s.handleSummary))
	mux.HandleFunc("GET /api/sessions/{id}/verdicts", s.requireRole(auth.RoleViewer, s.handleListVerdicts))
	mux.HandleFunc("POST /api/sessions/{id}/commands", s.requireRole(auth.RoleOperator, s.handleCommand))
	mux.HandleFunc("POST /api/sessions/{id}/telemetry", s.requireRole(auth.RoleOperator, s.handleTelemetry))
	mux.HandleFunc("POST /api/sessions/{id}/confirm", s.requireRole(auth.RoleOperator, s.handleConfirm))
	mux.HandleFunc("POST /api/sessions/{id}/abandon", s.requireRole(auth.RoleOperator, s.handleAbandon))

	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}
	return mux
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Difficulty  string `json:"difficulty,omitempty"`
		Steps       int    `json:"steps"`
	}
	s.mu.RLock()
	out := make([]entry, 0, len(s.scenarios))
	for _, sc := range s.scenarios {
		out = append(out, entry{
			ID:          sc.ID,
			Name:        sc.Name,
			Description: sc.Description,
			Difficulty:  sc.Difficulty,
			Steps:       len(sc.Steps),
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenarioId"`
		OperatorID string `json:"operatorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID, err := s.runner.StartSession(r.Context(), req.ScenarioID, req.OperatorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "session persistence is not configured")
		return
	}
	record, err := s.store.LoadSession(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListVerdicts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "session persistence is not configured")
		return
	}
	verdicts, err := s.store.ListVerdicts(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, verdicts)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary := s.runner.Summary(r.PathValue("id"))
	if summary == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd types.CommandRecord
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cmd.Name == "" {
		writeError(w, http.StatusBadRequest, "command name is required")
		return
	}
	result, err := s.runner.HandleCommand(r.Context(), r.PathValue("id"), cmd)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Snapshot    telemetry.Snapshot `json:"snapshot"`
		TickSeconds float64            `json:"tickSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.runner.HandleTelemetry(r.Context(), r.PathValue("id"), req.Snapshot, req.TickSeconds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	result, err := s.runner.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Abandon(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
}

// requireRole wraps a handler with an API-key check when auth is enabled.
func (s *Server) requireRole(minimum auth.Role, next http.HandlerFunc) http.HandlerFunc {
	if !s.requireAuth {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get("X-API-Key")
		key, err := s.keys.VerifyKey(r.Context(), secret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		if key.Role.Rank() < minimum.Rank() {
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
