package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"curator/internal/config"
	"curator/internal/enrich"
	"curator/internal/logging"
	"curator/internal/queue"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

type queueListResponse struct {
	Jobs []*jobView `json:"jobs"`
}

type jobView struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	Priority    int    `json:"priority"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type enrichRequest struct {
	EntityID        int64 `json:"entity_id"`
	Priority        int   `json:"priority"`
	ForceRefresh    bool  `json:"force_refresh"`
	RequireComplete bool  `json:"require_complete"`
}

type retryRequest struct {
	IDs []int64 `json:"ids"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/queue", authMiddleware(token, srv.handleQueue))
	mux.HandleFunc("/api/queue/retry", authMiddleware(token, srv.handleQueueRetry))
	mux.HandleFunc("/api/queue/clear", authMiddleware(token, srv.handleQueueClear))
	mux.HandleFunc("/api/enrich", authMiddleware(token, srv.handleEnrich))
	mux.HandleFunc("/api/events", authMiddleware(token, d.hub.ServeHTTP))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
}

// addr returns the bound listen address, empty before start.
func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}
	jobs, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]*jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewOf(job))
	}
	s.writeJSON(w, http.StatusOK, queueListResponse{Jobs: views})
}

func (s *apiServer) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req retryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	requeued, err := s.daemon.store.RetryFailed(r.Context(), req.IDs...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"requeued": requeued})
}

func (s *apiServer) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, ok := queue.ParseStatus(r.URL.Query().Get("status"))
	if !ok || !status.Terminal() {
		s.writeError(w, http.StatusBadRequest, "status must be completed or failed")
		return
	}
	cleared, err := s.daemon.store.ClearHistory(r.Context(), status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"cleared": cleared})
}

func (s *apiServer) handleEnrich(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req enrichRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.EntityID <= 0 {
		s.writeError(w, http.StatusBadRequest, "entity_id is required")
		return
	}
	job, err := s.daemon.EnqueueEnrichment(r.Context(), enrich.EnrichmentConfig{
		EntityID:        req.EntityID,
		Manual:          true,
		ForceRefresh:    req.ForceRefresh,
		RequireComplete: req.RequireComplete,
	}, req.Priority)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, viewOf(job))
}

func viewOf(job *queue.Job) *jobView {
	return &jobView{
		ID:          job.ID,
		Kind:        string(job.Kind),
		Priority:    job.Priority,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
