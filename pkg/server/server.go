// Package server exposes the meeting pipelines over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/penf-meetings/pkg/buildinfo"
	"github.com/otherjamesbrown/penf-meetings/pkg/diarization"
	pferrors "github.com/otherjamesbrown/penf-meetings/pkg/errors"
	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
	"github.com/otherjamesbrown/penf-meetings/pkg/observability"
	"github.com/otherjamesbrown/penf-meetings/pkg/pipeline"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes bounds request bodies. Requests carry URLs and ids only.
const maxBodyBytes = 1 << 20

// Processor runs the meeting pipeline.
type Processor interface {
	Process(ctx context.Context, meetingID, audioURL, pushToken string) pipeline.Result
}

// Diarizer runs the diarization pipeline.
type Diarizer interface {
	Diarize(ctx context.Context, meetingID string) (*diarization.Result, error)
}

// ReadinessFunc reports whether the server's dependencies are reachable.
type ReadinessFunc func(ctx context.Context) error

// Config holds listener settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultConfig returns listener settings sized for pipeline requests, which
// hold the connection for the whole run.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// ProcessMeetingRequest is the body of POST /process-meeting.
type ProcessMeetingRequest struct {
	AudioURL  string `json:"audio_url"`
	MeetingID string `json:"meeting_id"`
	PushToken string `json:"push_token,omitempty"`
}

func (r ProcessMeetingRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.AudioURL) == "" {
		missing = append(missing, "audio_url")
	}
	if strings.TrimSpace(r.MeetingID) == "" {
		missing = append(missing, "meeting_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Server is the HTTP front end.
type Server struct {
	cfg       Config
	processor Processor
	diarizer  Diarizer
	ready     ReadinessFunc
	gatherer  prometheus.Gatherer
	metrics   *observability.Metrics
	logger    logging.Logger
	mux       *http.ServeMux
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink and the registry served on /metrics.
func WithMetrics(m *observability.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithReadiness sets the /ready check.
func WithReadiness(fn ReadinessFunc) Option {
	return func(s *Server) {
		s.ready = fn
	}
}

// New creates a server.
func New(cfg Config, processor Processor, diarizer Diarizer, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		processor: processor,
		diarizer:  diarizer,
		gatherer:  prometheus.DefaultGatherer,
		logger:    logging.MustGlobal(),
		mux:       http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(logging.F("component", "http_server"))

	s.route("GET /health", s.handleHealth)
	s.route("GET /ready", s.handleReady)
	s.route("GET /version", buildinfo.Handler())
	s.route("POST /process-meeting", s.handleProcessMeeting)
	s.route("POST /meetings/{id}/diarize", s.handleDiarize)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	s.logger.Info("HTTP server listening", logging.F("address", listener.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server", logging.F("timeout", s.cfg.ShutdownTimeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// route registers h under pattern with request ids and metrics.
func (s *Server) route(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.instrument(pattern, h))
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx := logging.ContextWithRequestID(r.Context(), requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status), elapsed.Seconds())
		s.logger.WithContext(ctx).Debug("Request served",
			logging.F("route", route),
			logging.F("status", rec.status),
			logging.F("duration", elapsed))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.WithContext(r.Context()).Warn("Readiness check failed", logging.Err(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func (s *Server) handleProcessMeeting(w http.ResponseWriter, r *http.Request) {
	var req ProcessMeetingRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	// A started run finishes even if the caller disconnects; stage timeouts bound it.
	result := s.processor.Process(context.WithoutCancel(r.Context()), req.MeetingID, req.AudioURL, req.PushToken)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiarize(w http.ResponseWriter, r *http.Request) {
	meetingID := strings.TrimSpace(r.PathValue("id"))
	if meetingID == "" {
		s.writeError(w, http.StatusBadRequest, "meeting id is required", "")
		return
	}

	result, err := s.diarizer.Diarize(r.Context(), meetingID)
	if err != nil {
		status, message, code := diarizeErrorStatus(err)
		s.writeError(w, status, message, code)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// diarizeErrorStatus maps a diarization error to a status, client message and
// error code.
func diarizeErrorStatus(err error) (int, string, string) {
	code := pferrors.CodeOf(err)
	switch {
	case pferrors.IsNotFound(err):
		return http.StatusNotFound, "meeting not found", "not_found"
	case pferrors.IsInvalidState(err):
		return http.StatusBadRequest, "meeting has no transcript", "invalid_state"
	case code == pferrors.ErrPersistence:
		return http.StatusInternalServerError, "failed to store diarization", string(code)
	default:
		return http.StatusInternalServerError, "diarization failed", string(code)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", logging.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, code string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
