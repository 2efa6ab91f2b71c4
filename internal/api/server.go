package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbu-fleet/bbu-server/internal/campaign"
	"github.com/bbu-fleet/bbu-server/internal/clock"
	"github.com/bbu-fleet/bbu-server/internal/eventbus"
	"github.com/bbu-fleet/bbu-server/internal/metrics"
	"github.com/bbu-fleet/bbu-server/internal/registry"
)

// RESTServer represents the REST API server
type RESTServer struct {
	campaigns *campaign.Service
	registry  *registry.Registry
	bus       *eventbus.Bus
	metrics   *metrics.Metrics
	clock     clock.Clock
	version   string
	upgrader  websocket.Upgrader
	router    chi.Router
	server    *http.Server
	logger    zerolog.Logger
}

// Option configures a RESTServer
type Option func(*RESTServer)

// WithMetrics 挂载 /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *RESTServer) { s.metrics = m }
}

// WithVersion 健康检查中返回的版本号
func WithVersion(v string) Option {
	return func(s *RESTServer) { s.version = v }
}

// NewRESTServer creates a new REST API server
func NewRESTServer(svc *campaign.Service, reg *registry.Registry, bus *eventbus.Bus, clk clock.Clock, opts ...Option) *RESTServer {
	s := &RESTServer{
		campaigns: svc,
		registry:  reg,
		bus:       bus,
		clock:     clk,
		version:   "dev",
		router:    chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Handler returns the root handler
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requestLogger 用 zerolog 记录每个请求
func (s *RESTServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		ev := s.logger.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			ev = s.logger.Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
