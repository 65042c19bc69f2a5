package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spool/internal/api"
	"spool/internal/broadcast"
	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/orchestrator"
	"spool/internal/queue"
	"spool/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	orc    *orchestrator.Orchestrator

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, orc *orchestrator.Orchestrator, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address required")
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		orc:    orc,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/jobs/", srv.handleJob)
	mux.HandleFunc("/api/stream/", srv.handleStream)
	mux.HandleFunc("/api/search", srv.handleSearch)
	mux.HandleFunc("/api/cache", srv.handleCacheList)
	mux.HandleFunc("/api/cache/", srv.handleCacheDelete)
	mux.HandleFunc("/api/health", srv.handleHealth)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: event streams and Range downloads stay
		// open far longer than any fixed deadline.
		IdleTimeout: 60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createJob(w, r)
	case http.MethodGet:
		s.listJobs(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) createJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	job, created, err := s.orc.CreateJob(r.Context(), req.URL, req.Title)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, api.FromJob(job))
}

func (s *apiServer) listJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.orc.ListJobs(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(jobs)})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id, ok := strings.CutSuffix(rest, "/events"); ok {
		s.streamEvents(w, r, id)
		return
	}

	job, err := s.orc.GetJob(r.Context(), rest)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromJob(job))
}

// streamEvents serves GET /api/jobs/{id}/events as a server-sent event
// stream. The first frame is the current record; the stream closes only
// after a terminal frame.
func (s *apiServer) streamEvents(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	snapshot, sub, err := s.orc.Events(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeFrame := func(event api.JobEvent) bool {
		payload, err := json.Marshal(event)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeFrame(api.ProgressEvent(snapshot)) || snapshot.Terminal() {
		return
	}

	// Updates published between subscribing and the snapshot read sit in the
	// channel buffer but are already reflected in the seed frame. Relaying
	// them would walk progress backwards.
	lastUpdate := snapshot.UpdatedAt

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			var frame api.JobEvent
			switch event.Type {
			case broadcast.EventProgress:
				if event.Job == nil {
					continue
				}
				if !event.Job.Terminal() && !event.Job.UpdatedAt.After(lastUpdate) {
					continue
				}
				lastUpdate = event.Job.UpdatedAt
				frame = api.ProgressEvent(event.Job)
			case broadcast.EventHeartbeat:
				frame = api.HeartbeatEvent()
			default:
				continue
			}
			if !writeFrame(frame) {
				return
			}
			if event.Terminal() {
				return
			}
		}
	}
}

func (s *apiServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	locator := strings.TrimPrefix(r.URL.Path, "/api/stream/")
	file, err := s.orc.OpenArtifact(locator)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stat artifact")
		return
	}
	http.ServeContent(w, r, locator, info.ModTime(), file)
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 50 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = parsed
	}

	results, err := s.orc.Search(r.Context(), query, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SearchResponse{
		Query:   query,
		Results: api.FromSearchResults(results),
	})
}

func (s *apiServer) handleCacheList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	artifacts, err := s.orc.CacheEntries(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CacheListResponse{Entries: api.FromArtifacts(artifacts)})
}

func (s *apiServer) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	contentKey := strings.TrimPrefix(r.URL.Path, "/api/cache/")
	if err := s.orc.DeleteCacheEntry(r.Context(), contentKey); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health, err := s.orc.Health(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HealthStatus{
		Status:        "ok",
		CachedCount:   health.CachedCount,
		ActiveJobs:    health.Jobs.Active(),
		QueuedJobs:    health.Jobs.Queued,
		RunningJobs:   health.Jobs.Running,
		EngineVersion: health.EngineVersion,
	})
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.WithComponent(s.logger, "api-server")
	}
	return logging.NewNop()
}
