package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/reportwatch/internal/analytics"
	"github.com/seantiz/reportwatch/internal/model"
	"github.com/seantiz/reportwatch/internal/store"
	"github.com/seantiz/reportwatch/internal/watch"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// ReportAPI is the upstream report service the gateway submits jobs to.
// *transport.Client implements it.
type ReportAPI interface {
	SubmitGovernance(ctx context.Context, req model.GovernanceReportRequest) (model.JobCreateResponse, error)
	SubmitSEO(ctx context.Context, req model.SEOReportRequest) (model.JobCreateResponse, error)
	SuggestCompetitors(ctx context.Context, p model.SuggestCompetitorsParams) (model.SuggestCompetitorsResponse, error)
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router  *chi.Mux
	store   store.Store
	watches *watch.Manager
	reports ReportAPI
	tracker *analytics.Tracker
	logger  *slog.Logger
	addr    string
}

// NewServer creates and configures a new HTTP server. A nil tracker disables
// analytics.
func NewServer(addr string, s store.Store, m *watch.Manager, reports ReportAPI, tracker *analytics.Tracker, logger *slog.Logger) *Server {
	srv := &Server{
		router:  chi.NewRouter(),
		store:   s,
		watches: m,
		reports: reports,
		tracker: tracker,
		logger:  logger,
		addr:    addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Route("/v1/watches", func(r chi.Router) {
		r.Post("/", s.handleCreateWatch)
		r.Get("/", s.handleListWatches)
		r.Get("/{id}", s.handleGetWatch)
		r.Post("/{id}/retry", s.handleRetryWatch)
		r.Put("/{id}/subject", s.handleRebindWatch)
		r.Get("/{id}/events", s.handleStreamEvents)
		r.Get("/{id}/history", s.handleGetHistory)
		r.Delete("/{id}", s.handleDeleteWatch)
	})

	s.router.Route("/v1/reports", func(r chi.Router) {
		r.Post("/governance", s.handleSubmitGovernance)
		r.Post("/seo", s.handleSubmitSEO)
	})

	s.router.Get("/v1/competitors/suggest", s.handleSuggestCompetitors)
	s.router.Post("/v1/analytics/events", s.handleTrackEvent)
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := s.watches.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown watches: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// track forwards an event to the tracker when analytics is enabled.
func (s *Server) track(name analytics.EventName, props analytics.Properties) {
	if s.tracker != nil {
		s.tracker.Track(name, props)
	}
}
