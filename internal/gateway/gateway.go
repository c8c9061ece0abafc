// Package gateway runs the HTTP transport: the streamable MCP endpoint
// plus the operational surface (health, readiness, metrics).
package gateway

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/doppler-mcp/internal/observability"
	"github.com/jkaninda/doppler-mcp/internal/ratelimit"
)

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr string // e.g. ":8080".
	MCPPath    string // MCP endpoint path. Default "/mcp".

	// AuthToken guards the MCP endpoint. Empty disables auth; health,
	// readiness, and metrics are always unauthenticated.
	AuthToken string

	// RateLimiter bounds per-client request rates on the MCP endpoint.
	// Nil disables limiting.
	RateLimiter *ratelimit.Limiter

	// Observability wiring. All optional.
	Metrics         *observability.MetricsCollector
	MetricsRegistry *prometheus.Registry
	MetricsPath     string // Default "/metrics".
	HealthChecker   *observability.HealthChecker
	Tracer          trace.Tracer
}

// Gateway serves the MCP streamable HTTP endpoint behind okapi.
type Gateway struct {
	config     Config
	mcpHandler http.Handler
	logger     *slog.Logger
	server     *http.Server
	okapi      *okapi.Okapi
}

// New creates a gateway around an already-built MCP HTTP handler.
func New(cfg Config, mcpHandler http.Handler, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:     cfg,
		mcpHandler: mcpHandler,
		logger:     logger,
		okapi:      okapi.New(),
	}
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// MCP endpoint. The streamable transport uses POST for messages, GET
	// for the listen stream, and DELETE for session teardown.
	mcpPath := g.config.MCPPath
	if mcpPath == "" {
		mcpPath = "/mcp"
	}
	handler := g.requireAuth(g.rateLimit(g.mcpHandler))
	for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
		g.okapi.HandleStd(method, mcpPath, handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting",
		slog.String("addr", g.config.ListenAddr),
		slog.String("mcp_path", mcpPath),
		slog.Bool("auth", g.config.AuthToken != ""),
	)

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// requireAuth wraps the MCP handler with a bearer token check.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	if g.config.AuthToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(g.config.AuthToken)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing or invalid Authorization header"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the per-client token bucket, keyed by remote host.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	if g.config.RateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if err := g.config.RateLimiter.Allow(host); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return "", false
	}
	return auth[len(prefix):], true
}

// HealthResponse is the JSON body for /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
