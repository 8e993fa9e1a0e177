// Package server exposes Lumi over HTTP: health, metrics, the realtime
// websocket and the conversation history API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/normanking/lumi/internal/metrics"
	"github.com/normanking/lumi/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Conversations is the read side of the conversation store.
type Conversations interface {
	ListConversations(ctx context.Context, userID string, limit int) ([]*store.Conversation, error)
	Health(ctx context.Context) error
}

// Config configures a Server.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	DefaultUserID   string
}

// Server is the HTTP front end.
type Server struct {
	cfg        Config
	logger     zerolog.Logger
	store      Conversations
	realtime   http.Handler
	httpServer *http.Server
	onShutdown []func()
}

// New creates a Server. realtime may be nil, in which case /ws is not
// served.
func New(logger zerolog.Logger, cfg Config, conversations Conversations, realtime http.Handler) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8787"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		store:    conversations,
		realtime: realtime,
	}
}

// RegisterOnShutdown runs fn when Start begins shutting down. Hijacked
// websocket connections are not closed by the HTTP server itself.
func (s *Server) RegisterOnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", s.instrument("/healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/api/conversations", s.instrument("/api/conversations", http.HandlerFunc(s.handleConversations)))
	mux.Handle("/metrics", promhttp.Handler())
	if s.realtime != nil {
		// Not instrumented: the upgrade needs the raw ResponseWriter.
		mux.Handle("/ws", s.realtime)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	for _, fn := range s.onShutdown {
		s.httpServer.RegisterOnShutdown(fn)
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info().Msg("Shutting down HTTP server")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	if s.store != nil {
		if err := s.store.Health(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = err.Error()
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store not configured"})
		return
	}

	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		userID = s.cfg.DefaultUserID
	}
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	limit := 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	list, err := s.store.ListConversations(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("List conversations failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load conversations"})
		return
	}
	if list == nil {
		list = []*store.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
