// Package mcpserver wires configuration, sessions, the MCP dispatcher and the
// HTTP transport into a runnable server.
package mcpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/matsjfunke/header-test-mcp/internal/adapters/httpapi"
	"github.com/matsjfunke/header-test-mcp/internal/adapters/streamhttp"
	"github.com/matsjfunke/header-test-mcp/internal/bootstrap/serverconfig"
	"github.com/matsjfunke/header-test-mcp/internal/mcp"
	"github.com/matsjfunke/header-test-mcp/internal/platform/metrics"
	"github.com/matsjfunke/header-test-mcp/internal/platform/ratelimiter"
	"github.com/matsjfunke/header-test-mcp/internal/session"
)

// Server bundles the HTTP server with the components tests and operators may
// want to inspect.
type Server struct {
	*httpapi.Server
	Registry *session.Registry
	Metrics  *metrics.Metrics
}

// New builds a server from cfg. Metrics may be nil when disabled.
func New(cfg serverconfig.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var (
		m               *metrics.Metrics
		sessionObserver session.Observer
		callObserver    mcp.Observer
		rejectObserver  interface{ Rejected(string) }
		metricsHandler  http.Handler
	)
	if cfg.Metrics.Enabled {
		m = metrics.New(true)
		sessionObserver = m
		callObserver = m
		rejectObserver = m
		metricsHandler = m.Handler()
	}

	registry := session.NewRegistry(session.Options{
		HistoryLimit: cfg.HistoryLimit,
		Observer:     sessionObserver,
		Logger:       logger.With("component", "sessions"),
	})

	dispatcher := mcp.NewServer(mcp.Options{
		Observer: callObserver,
		Logger:   logger.With("component", "mcp"),
	})
	if err := dispatcher.AddTool(mcp.HeadersTool()); err != nil {
		return nil, err
	}

	transport, err := streamhttp.New(streamhttp.Options{
		Registry:               registry,
		Handler:                dispatcher,
		JSONResponse:           cfg.JSONResponse,
		Heartbeat:              cfg.Streams.Heartbeat,
		Streams:                streamhttp.NewStreamLimiter(cfg.Streams.MaxGlobal, cfg.Streams.MaxPerClient),
		DNSRebindingProtection: cfg.DNSRebinding.Enabled,
		AllowedHosts:           cfg.DNSRebinding.AllowedHosts,
		AllowedOrigins:         cfg.DNSRebinding.AllowedOrigins,
		Observer:               rejectObserver,
		Logger:                 logger.With("component", "transport"),
	})
	if err != nil {
		return nil, err
	}

	srv, err := httpapi.New(httpapi.Options{
		Addr:     cfg.Addr(),
		MCPPath:  cfg.Path,
		MCP:      transport,
		Sessions: registry,
		Auth: httpapi.AuthConfig{
			Token:       cfg.Auth.Token,
			JWTSecret:   cfg.Auth.JWTSecret,
			JWTIssuer:   cfg.Auth.JWTIssuer,
			JWTAudience: cfg.Auth.JWTAudience,
		},
		Limiter: ratelimiter.New(ratelimiter.Config{
			Enabled: cfg.RateLimit.Enabled,
			RPS:     cfg.RateLimit.RPS,
			Burst:   cfg.RateLimit.Burst,
		}),
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
		Observer:    rejectObserver,
		Logger:      logger.With("component", "http"),
	})
	if err != nil {
		return nil, err
	}
	return &Server{Server: srv, Registry: registry, Metrics: m}, nil
}
