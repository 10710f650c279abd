package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"trialpulse/internal/config"
	apperrors "trialpulse/internal/errors"
	"trialpulse/internal/infrastructure"
)

// Server is the operational HTTP listener a pipeline run exposes next
// to itself: liveness, readiness with the current pipeline stage, and
// the Prometheus scrape endpoint. It serves observability only; the
// engine has no network surface.
type Server struct {
	cfg       config.OpsConfig
	log       *slog.Logger
	health    *Health
	metricsH  http.Handler
	collector *infrastructure.SystemMetricsCollector
	busMx     *infrastructure.BusinessMetrics

	httpServer *http.Server
	addr       string
}

// NewServer wires the listener. metricsHandler is the Prometheus
// handler from the OTel providers; collector and busMetrics may be nil,
// which disables the runtime block and HTTP instruments respectively.
func NewServer(cfg config.OpsConfig, logger *slog.Logger, health *Health,
	metricsHandler http.Handler, collector *infrastructure.SystemMetricsCollector,
	busMetrics *infrastructure.BusinessMetrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		log:       logger.With(slog.String("component", "ops")),
		health:    health,
		metricsH:  metricsHandler,
		collector: collector,
		busMx:     busMetrics,
	}
}

// Router assembles the chi router with the middleware chain: request
// id, logging, recovery, metrics, then the optional rate limit.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.log))
	r.Use(recoverer(s.log))
	r.Use(httpMetrics(s.busMx))
	if s.cfg.RateLimit.Enabled {
		r.Use(newRateLimiter(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.log).handler)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsH != nil {
		r.Handle("/metrics", s.metricsH)
	}
	return r
}

// Start binds the configured address and serves in the background.
// The bind itself is synchronous so a bad address fails the run
// immediately rather than logging from a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("bind ops listener on %q", s.cfg.Addr), err)
	}
	s.addr = ln.Addr().String()

	s.httpServer = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server failed", "error", err)
		}
	}()

	s.log.Info("ops server listening", "addr", s.addr)
	return nil
}

// Addr returns the bound address, useful when the config asked for an
// ephemeral port.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown drains in-flight requests within the configured shutdown
// timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	s.log.Info("ops server stopped")
	return nil
}

// handleHealthz reports liveness with a runtime snapshot.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	version, _, _, uptime := s.health.snapshot()
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   version,
		Runtime:   s.runtimeStats(r.Context(), uptime),
	}
	render.JSON(w, r, status)
}

// handleReadyz reports readiness and the pipeline stage, with a 503
// until startup completes.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	version, stage, ready, _ := s.health.snapshot()
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   version,
		Stage:     stage,
	}
	if !ready {
		status.Status = "not_ready"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}

func (s *Server) runtimeStats(ctx context.Context, uptime time.Duration) map[string]interface{} {
	if s.collector == nil {
		return map[string]interface{}{"uptime_seconds": uptime.Seconds()}
	}
	return s.collector.GetCurrentStats(ctx).FormatStats()
}
