// Package dashboard is the read-only HTTP surface over the state store,
// plus the one control the terminal accepts remotely: the kill-switch. The
// server never withholds data; the timeline gate governs producers, and
// clients read plan_status/plan_locked to decide what to show.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/journal"
	"github.com/probedge/probedge/internal/models"
	"github.com/probedge/probedge/internal/state"
)

// Heartbeats older than these mark a component WARN / DOWN.
const (
	staleWarnAfter = 10 * time.Second
	staleDownAfter = 60 * time.Second
)

// SnapshotFn returns the day's plan snapshot, or nil before 09:40.
type SnapshotFn func() *models.Snapshot

// Server serves the dashboard API.
type Server struct {
	router *chi.Mux
	server *http.Server
	store  *state.Store
	plan   SnapshotFn
	jnl    *journal.Journal
	cfg    *config.Config
	logger *logrus.Logger
	now    func() time.Time
}

// NewServer wires the routes. now is the terminal's Clock, so health
// staleness math stays deterministic in replay.
func NewServer(cfg *config.Config, store *state.Store, plan SnapshotFn, jnl *journal.Journal, now func() time.Time, logger *logrus.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		plan:   plan,
		jnl:    jnl,
		cfg:    cfg,
		logger: logger,
		now:    now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/api/state", s.handleState)
	s.router.Get("/api/plan", s.handlePlan)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/config", s.handleConfig)
	s.router.Get("/api/fills", s.handleFills)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Post("/api/control/kill", s.requireAPIKey(s.handleKill))
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.WithField("listen", s.cfg.HTTP.Listen).Info("Starting dashboard server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requireAPIKey gates control endpoints. An unset key disables them rather
// than leaving them open.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := s.cfg.HTTP.APIKey
		if key == "" {
			http.Error(w, "control endpoints disabled", http.StatusForbidden)
			return
		}
		if r.Header.Get("X-API-Key") != key {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.store.Snapshot())
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	snap := s.plan()
	if snap == nil {
		st := s.store.Snapshot()
		s.writeJSON(w, map[string]interface{}{
			"status": st.Meta.PlanStatus,
			"locked": st.Meta.PlanLocked,
		})
		return
	}
	s.writeJSON(w, snap)
}

// healthView is the /api/health document: overall grade plus per-component
// staleness-adjusted statuses.
type healthView struct {
	Status     string                   `json:"status"`
	Mode       string                   `json:"mode"`
	Date       string                   `json:"date"`
	PlanStatus models.SnapshotStatus    `json:"plan_status"`
	RiskState  state.RiskState          `json:"risk_state"`
	KillSwitch bool                     `json:"kill_switch"`
	Agents     map[string]state.AgentHB `json:"agents"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.store.Snapshot()
	now := s.now()

	view := healthView{
		Status:     state.AgentOK,
		Mode:       st.Meta.Mode,
		Date:       st.Meta.Date,
		PlanStatus: st.Meta.PlanStatus,
		RiskState:  st.Meta.RiskState,
		KillSwitch: st.Meta.KillSwitch,
		Agents:     make(map[string]state.AgentHB, len(st.Agents)),
	}
	for name, hb := range st.Agents {
		view.Agents[name] = graded(hb, now)
	}
	for _, hb := range view.Agents {
		view.Status = state.Worse(view.Status, hb.Status)
	}
	if st.Meta.PlanStatus == models.SnapshotFailed || st.Meta.RiskState.Status == state.RiskHalted {
		view.Status = state.Worse(view.Status, state.AgentWarn)
	}
	s.writeJSON(w, view)
}

// graded downgrades a heartbeat by its age against the terminal clock.
func graded(hb state.AgentHB, now time.Time) state.AgentHB {
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", hb.LastHeartbeatTS, now.Location())
	if err != nil {
		return hb
	}
	age := now.Sub(ts)
	switch {
	case age > staleDownAfter:
		hb.Status = state.AgentDown
	case age > staleWarnAfter && hb.Status == state.AgentOK:
		hb.Status = state.AgentWarn
	}
	return hb
}

// handleConfig echoes the running config with secrets blanked.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	redacted := *s.cfg
	redacted.Feed.APIKey = ""
	redacted.HTTP.APIKey = ""
	s.writeJSON(w, map[string]interface{}{
		"mode":     redacted.Mode,
		"symbols":  redacted.Symbols,
		"risk":     redacted.Risk,
		"cutovers": redacted.Cutovers,
		"picker":   redacted.Picker,
		"engine":   redacted.Engine,
		"paths":    redacted.Paths,
	})
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = s.store.Snapshot().Meta.Date
	}
	if s.jnl == nil {
		s.writeJSON(w, []models.Fill{})
		return
	}
	fills, err := s.jnl.Fills(day)
	if err != nil {
		s.logger.WithError(err).Error("Failed to query fills")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if fills == nil {
		fills = []models.Fill{}
	}
	s.writeJSON(w, fills)
}

// handleKill sets the kill-switch flag the engine honors on its next cycle.
func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	s.store.Apply(func(st *state.SystemState) {
		st.Meta.KillSwitch = true
	})
	s.logger.Warn("Kill-switch engaged via API")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]bool{"kill_switch": true}); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
