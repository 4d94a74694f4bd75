// Package httpapi exposes the tracking session over HTTP and a WebSocket
// so a browser or phone client can render state and sound the alarm.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/arrival-alarm/internal/alarm"
	"github.com/stuartshay/arrival-alarm/internal/geo"
	"github.com/stuartshay/arrival-alarm/internal/queue"
	"github.com/stuartshay/arrival-alarm/internal/tracker"
)

// PulseSource delivers alarm pulses; *alarm.Broadcast implements it
type PulseSource interface {
	Listen() (<-chan alarm.Pulse, func())
}

// Server serves the HTTP API for one session
type Server struct {
	service  string
	session  *tracker.Session
	searches *queue.Queue
	pulses   PulseSource
}

// NewServer creates the API. searches and pulses may be nil, which disables
// destination search and pulse streaming.
func NewServer(service string, session *tracker.Session, searches *queue.Queue, pulses PulseSource) *Server {
	return &Server{
		service:  service,
		session:  session,
		searches: searches,
		pulses:   pulses,
	}
}

// Handler returns the routed handler wrapped with CORS, panic recovery and
// request logging.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/target", s.handleTarget).Methods(http.MethodPost)
	api.HandleFunc("/radius", s.handleRadius).Methods(http.MethodPost)
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodPost)
	api.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	api.HandleFunc("/search", s.handleListSearches).Methods(http.MethodGet)
	api.HandleFunc("/search/{id}", s.handleGetSearch).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	router.Use(logRequests)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(cors(router))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs every request except the WebSocket stream, whose
// writer must stay hijackable.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	view := healthView{
		Status:            "healthy",
		Service:           s.service,
		LocationAvailable: !s.session.Snapshot().HasCondition(tracker.ConditionLocationUnavailable),
	}
	if s.searches != nil {
		view.Searches = s.searches.GetStats()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newStateView(s.session.Snapshot()))
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}

	applied, err := s.session.SetTarget(geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeIntent(w, applied)
}

func (s *Server) handleRadius(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Radius *int `json:"radius"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.Radius == nil {
		writeError(w, http.StatusBadRequest, "radius is required")
		return
	}

	applied, err := s.session.SetRadius(*req.Radius)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeIntent(w, applied)
}

// handleSession is the begin-session gesture that unlocks audio
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	err := s.session.PrimeAudio()
	writeJSON(w, http.StatusOK, sessionView{
		AudioPrimed: err == nil,
		State:       newStateView(s.session.Snapshot()),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	// Start is a user gesture too; a priming failure surfaces once the alarm rings
	_ = s.session.PrimeAudio()
	s.writeIntent(w, s.session.Start())
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s.writeIntent(w, s.session.Cancel())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.session.Stop()
	s.writeIntent(w, true)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searches == nil {
		writeError(w, http.StatusServiceUnavailable, "destination search is not configured")
		return
	}

	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	jobID, err := s.searches.Enqueue(req.Query)
	switch {
	case errors.Is(err, queue.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	job, err := s.searches.GetJob(jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, newJobView(job))
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	if s.searches == nil {
		writeError(w, http.StatusServiceUnavailable, "destination search is not configured")
		return
	}

	job, err := s.searches.GetJob(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// defaultSearchLimit caps GET /api/search when no limit is given
const defaultSearchLimit = 20

func (s *Server) handleListSearches(w http.ResponseWriter, r *http.Request) {
	if s.searches == nil {
		writeError(w, http.StatusServiceUnavailable, "destination search is not configured")
		return
	}

	query := r.URL.Query()

	status := queue.JobStatus(query.Get("status"))
	switch status {
	case "", queue.StatusQueued, queue.StatusProcessing, queue.StatusCompleted, queue.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
		return
	}

	limit, err := intParam(query.Get("limit"), defaultSearchLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	offset, err := intParam(query.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	jobs := s.searches.ListJobs(status, limit, offset)
	view := jobListView{Jobs: make([]jobView, 0, len(jobs)), Count: len(jobs)}
	for _, job := range jobs {
		view.Jobs = append(view.Jobs, newJobView(job))
	}
	writeJSON(w, http.StatusOK, view)
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) writeIntent(w http.ResponseWriter, applied bool) {
	writeJSON(w, http.StatusOK, intentView{
		Applied: applied,
		State:   newStateView(s.session.Snapshot()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
