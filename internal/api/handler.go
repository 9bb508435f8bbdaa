package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/teamflow/internal/perf"
	"github.com/nidhogg/teamflow/internal/team"
	"github.com/nidhogg/teamflow/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine  *workflow.Engine
	teams   team.Directory
	tracker *perf.Tracker
	metrics http.Handler
	logger  *zap.Logger
}

// NewHandler creates a new API handler. tracker and gatherer may be nil.
func NewHandler(engine *workflow.Engine, tracker *perf.Tracker, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		engine:  engine,
		teams:   engine.Teams(),
		tracker: tracker,
		metrics: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/teams", h.listTeams)
		r.Post("/teams", h.saveTeam)
		r.Get("/teams/{name}", h.getTeam)
		r.Delete("/teams/{name}", h.deleteTeam)
		r.Get("/teams/{name}/performance", h.teamPerformance)

		r.Get("/runs", h.listRuns)
		r.Post("/runs", h.createRun)
		r.Get("/runs/{id}", h.getRun)
		r.Delete("/runs/{id}", h.discardRun)
		r.Post("/runs/{id}/start", h.startRun)
		r.Post("/runs/{id}/pause", h.pauseRun)
		r.Post("/runs/{id}/resume", h.resumeRun)
		r.Post("/runs/{id}/restart", h.restartRun)
		r.Get("/runs/{id}/events", h.streamEvents)
	})
	r.Method(http.MethodGet, "/metrics", h.metrics)

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "teamflow"})
}

func (h *Handler) listTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.teams.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (h *Handler) saveTeam(w http.ResponseWriter, r *http.Request) {
	var t team.Team
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.teams.Save(r.Context(), &t); err != nil {
		writeError(w, err)
		return
	}
	saved, err := h.teams.Lookup(r.Context(), t.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) getTeam(w http.ResponseWriter, r *http.Request) {
	t, err := h.teams.Lookup(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) deleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := h.teams.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) teamPerformance(w http.ResponseWriter, r *http.Request) {
	t, err := h.teams.Lookup(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	if h.tracker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "performance tracking not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"team":    t.Name,
		"enabled": t.PerformanceTracking,
		"members": h.tracker.Stats(t.Name),
	})
}

type runRequest struct {
	Team        string     `json:"team"`
	Definition  *team.Team `json:"definition,omitempty"`
	Task        string     `json:"task"`
	Coordinator string     `json:"coordinator"`
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var (
		id  string
		err error
	)
	if req.Definition != nil {
		id, err = h.engine.StartTeam(r.Context(), req.Definition, req.Task, req.Coordinator)
	} else {
		id, err = h.engine.Start(r.Context(), req.Team, req.Task, req.Coordinator)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.engine.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.List())
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) discardRun(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Discard(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id := chi.URLParam(r, "id")
	h.control(w, id, func() error { return h.engine.Rerun(id, req.Task, req.Coordinator) })
}

func (h *Handler) pauseRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.control(w, id, func() error { return h.engine.Pause(id) })
}

func (h *Handler) resumeRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.control(w, id, func() error { return h.engine.Resume(id) })
}

func (h *Handler) restartRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.control(w, id, func() error { return h.engine.Restart(id) })
}

// control applies op and replies with the run's snapshot.
func (h *Handler) control(w http.ResponseWriter, id string, op func() error) {
	if err := op(); err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.engine.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// streamEvents sends the run's current snapshot followed by live events
// as Server-Sent Events. The stream ends when the run completes or fails,
// or when the client goes away.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	events, cancel, err := h.engine.Subscribe(id, 256)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()
	snap, err := h.engine.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, 0, "snapshot", snap); err != nil {
		return
	}
	flusher.Flush()
	if snap.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, ev.Seq, string(ev.Type), ev); err != nil {
				h.logger.Debug("event stream closed", zap.String("run", id), zap.Error(err))
				return
			}
			flusher.Flush()
			if ev.Type == workflow.EventStatus && ev.Status.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, seq uint64, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// writeError maps engine and directory errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ve *workflow.ValidationError
	var ise *workflow.InvalidStateError
	switch {
	case errors.As(err, &ve), errors.Is(err, team.ErrInvalidTeam):
		status = http.StatusBadRequest
	case errors.As(err, &ise):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrRunNotFound), errors.Is(err, team.ErrTeamNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
