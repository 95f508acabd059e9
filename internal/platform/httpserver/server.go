package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	deadletter "folio/contexts/event-delivery/dead-letter"
	dlqerrors "folio/contexts/event-delivery/dead-letter/domain/errors"
	dlqhttp "folio/contexts/event-delivery/dead-letter/transport/http"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	mux        *http.ServeMux
	handler    http.Handler
	logger     *slog.Logger
	addr       string
	deadLetter *deadletter.Module
	registry   *prometheus.Registry
	checks     map[string]HealthCheck
}

// New serves the DLQ operator API plus metrics and health.
func New(
	deadLetterModule deadletter.Module,
	registry *prometheus.Registry,
	checks map[string]HealthCheck,
	logger *slog.Logger,
	addr string,
) *Server {
	return newServer(&deadLetterModule, registry, checks, logger, addr)
}

// NewOperational serves only metrics and health.
func NewOperational(registry *prometheus.Registry, checks map[string]HealthCheck, logger *slog.Logger, addr string) *Server {
	return newServer(nil, registry, checks, logger, addr)
}

func newServer(
	deadLetterModule *deadletter.Module,
	registry *prometheus.Registry,
	checks map[string]HealthCheck,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		mux:        http.NewServeMux(),
		logger:     logger,
		addr:       addr,
		deadLetter: deadLetterModule,
		registry:   registry,
		checks:     checks,
	}
	s.registerRoutes()
	s.handler = NewMetrics(registry).Middleware(s.mux)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx ends, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http server stopping",
		"event", "http_server_stopping",
		"module", "internal/platform/httpserver",
		"layer", "platform",
	)
	return server.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deadLetter == nil {
		return
	}

	s.mux.Handle("GET /v1/dlq/messages", WithRoute("/v1/dlq/messages", http.HandlerFunc(s.handleSearchDlq)))
	s.mux.Handle("GET /v1/dlq/messages/{id}", WithRoute("/v1/dlq/messages/{id}", http.HandlerFunc(s.handleGetDlq)))
	s.mux.Handle("POST /v1/dlq/messages/{id}/reprocess", WithRoute("/v1/dlq/messages/{id}/reprocess", http.HandlerFunc(s.handleReprocessDlq)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": results})
}

func (s *Server) handleSearchDlq(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := dlqhttp.SearchMessagesRequest{
		Status:          query.Get("status"),
		OriginalChannel: query.Get("original_channel"),
	}

	for _, param := range []struct {
		name   string
		target *int
	}{
		{name: "page", target: &req.Page},
		{name: "size", target: &req.Size},
	} {
		raw := query.Get(param.name)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			writeDlqError(w, http.StatusBadRequest, "invalid_"+param.name, param.name+" must be an integer")
			return
		}
		*param.target = value
	}

	resp, err := s.deadLetter.Handler.SearchMessagesHandler(r.Context(), req)
	if err != nil {
		s.writeDlqDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDlq(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deadLetter.Handler.GetMessageHandler(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDlqDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReprocessDlq(w http.ResponseWriter, r *http.Request) {
	var req dlqhttp.ReprocessMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDlqError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.Actor) == "" {
		req.Actor = strings.TrimSpace(r.Header.Get("X-User-Id"))
	}

	resp, err := s.deadLetter.Handler.ReprocessMessageHandler(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeDlqDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeDlqDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dlqerrors.ErrDlqMessageNotFound):
		writeDlqError(w, http.StatusNotFound, "dlq_message_not_found", err.Error())
	case errors.Is(err, dlqerrors.ErrInvalidSearchFilter):
		writeDlqError(w, http.StatusBadRequest, "invalid_search_filter", err.Error())
	case errors.Is(err, dlqerrors.ErrReprocessActorRequired):
		writeDlqError(w, http.StatusBadRequest, "actor_required", err.Error())
	case errors.Is(err, dlqerrors.ErrReprocessNotAllowed):
		writeDlqError(w, http.StatusConflict, "reprocess_not_allowed", err.Error())
	case errors.Is(err, dlqerrors.ErrConcurrentUpdate):
		writeDlqError(w, http.StatusConflict, "concurrent_update", err.Error())
	default:
		s.logger.Error("dlq request failed",
			"event", "http_dlq_request_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"error", err.Error(),
		)
		writeDlqError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeDlqError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, dlqhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
