// Package server exposes the coaching session over HTTP: a health probe,
// Prometheus metrics, the live projection and a command endpoint that feeds
// the same dispatcher as the terminal keys and voice.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vango-go/vai-coach/pkg/coach"
	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/metrics"
	"github.com/vango-go/vai-coach/pkg/procedures"
)

// Coach is the session surface the server drives. *coach.Coach implements it.
type Coach interface {
	Projection() coach.Projection
	Execute(cmd coach.Command) bool
	Primary()
	TogglePause() bool
	LoadProcedure(p procedures.Procedure) error
}

// Store is the procedure lookup the server needs.
type Store interface {
	List(ctx context.Context, account string) ([]procedures.Procedure, error)
	Get(ctx context.Context, account, id string) (procedures.Procedure, error)
	SetCurrent(ctx context.Context, p procedures.Procedure) error
}

type Config struct {
	Addr                string
	Account             string
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

type Server struct {
	cfg     Config
	coach   Coach
	store   Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  chi.Router
}

// New builds the router. store and m may be nil; their routes are then
// omitted.
func New(cfg Config, c Coach, store Store, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = 5 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		coach:   c,
		store:   store,
		metrics: m,
		logger:  logger,
		router:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(chiMiddleware.RequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/projection", s.handleProjection)
		r.Post("/command", s.handleCommand)
		if s.store != nil {
			r.Get("/procedures", s.handleListProcedures)
			r.Post("/procedures/{id}/use", s.handleUseProcedure)
		}
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, core.ErrNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("panic", zap.Any("panic", v), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, core.ErrAPI, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := metrics.NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.RecordHTTP(r.Method, route, rw.StatusCode)
		}
		s.logger.Debug("request",
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rw.StatusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
