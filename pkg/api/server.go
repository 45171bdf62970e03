// Package api exposes the scan orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/history"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/storage"
)

// Scanner is the orchestrator surface the handlers drive.
type Scanner interface {
	StartScan(ctx context.Context, accounts []model.CloudAccount, opts model.ScanOptions) (string, error)
	Status(ctx context.Context, scanID string) (model.ScanJob, error)
	Result(ctx context.Context, scanID string) (model.ScanResult, error)
	PartialResult(ctx context.Context, scanID string) (model.ScanResult, error)
	Cancel(ctx context.Context, scanID string) (bool, error)
	List() []model.ScanJob
}

// Server wires handlers to the scanner, the result store and the feedback ledger.
type Server struct {
	scanner Scanner
	store   storage.Store
	history *history.Client
	logger  *slog.Logger
	origins []string

	readTimeout  time.Duration
	writeTimeout time.Duration
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithAllowedOrigins sets the CORS allow-list. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option { return func(s *Server) { s.origins = origins } }

// WithHistory enables the feedback endpoint.
func WithHistory(h *history.Client) Option { return func(s *Server) { s.history = h } }

// WithTimeouts bounds request reads and response writes.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) { s.readTimeout, s.writeTimeout = read, write }
}

func NewServer(scanner Scanner, store storage.Store, opts ...Option) *Server {
	s := &Server{
		scanner:      scanner,
		store:        store,
		logger:       slog.Default(),
		readTimeout:  15 * time.Second,
		writeTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router registers every route on a fresh router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/scan", s.startScan).Methods(http.MethodPost)
	r.HandleFunc("/scan/{id}/status", s.scanStatus).Methods(http.MethodGet)
	r.HandleFunc("/scan/{id}/result", s.scanResult).Methods(http.MethodGet)
	r.HandleFunc("/scan/{id}/cancel", s.cancelScan).Methods(http.MethodPost)
	r.HandleFunc("/scan/{id}/export", s.exportScan).Methods(http.MethodGet)
	r.HandleFunc("/scan/{id}/audit", s.scanAudit).Methods(http.MethodGet)
	r.HandleFunc("/scans", s.listScans).Methods(http.MethodGet)
	r.HandleFunc("/recommendation/{id}/feedback", s.recordFeedback).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Use(s.recoverPanics)
	return r
}

// Handler returns the router wrapped with CORS and request tracing.
func (s *Server) Handler() http.Handler {
	opts := cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}
	return otelhttp.NewHandler(cors.New(opts).Handler(s.Router()), "http.request",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					return r.Method + " " + tpl
				}
			}
			return r.Method + " " + r.URL.Path
		}),
	)
}

// ListenAndServe runs the HTTP server until ctx ends, then drains it.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "error", rec)
				respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
