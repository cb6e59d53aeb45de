// Package httpapi hosts the MCP endpoint together with health and metrics
// routes behind CORS, authentication and per-client rate limiting.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/matsjfunke/header-test-mcp/internal/mcp"
	"github.com/matsjfunke/header-test-mcp/internal/platform/privacylog"
	"github.com/matsjfunke/header-test-mcp/internal/platform/ratelimiter"
)

const (
	DefaultAddr     = ":3333"
	DefaultMCPPath  = "/mcp"
	shutdownTimeout = 5 * time.Second
)

// MCPHandler serves the MCP endpoint. A returned error becomes a 500 response.
type MCPHandler interface {
	ServeMCP(w http.ResponseWriter, r *http.Request) error
}

// Sessions is the view of the session registry the server needs.
type Sessions interface {
	Len() int
	CloseAll()
}

// Observer counts rejected HTTP requests by reason.
type Observer interface {
	Rejected(reason string)
}

type nopObserver struct{}

func (nopObserver) Rejected(string) {}

type Options struct {
	Addr     string
	MCPPath  string
	MCP      MCPHandler
	Sessions Sessions
	Auth     AuthConfig
	Limiter  *ratelimiter.MapLimiter
	// Metrics is mounted at MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string
	Observer    Observer
	Logger      *slog.Logger
}

type Server struct {
	httpServer *http.Server
	listener   net.Listener
	mcpPath    string
	mcp        MCPHandler
	sessions   Sessions
	auth       *authenticator
	limiter    *ratelimiter.MapLimiter
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts Options) (*Server, error) {
	if opts.MCP == nil {
		return nil, errors.New("httpapi: mcp handler is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("httpapi: sessions are required")
	}
	auth, err := newAuthenticator(opts.Auth)
	if err != nil {
		return nil, err
	}
	s := &Server{
		mcpPath:  opts.MCPPath,
		mcp:      opts.MCP,
		sessions: opts.Sessions,
		auth:     auth,
		limiter:  opts.Limiter,
		observer: opts.Observer,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if s.mcpPath == "" {
		s.mcpPath = DefaultMCPPath
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.auth == nil {
		s.logger.Warn("MCP_AUTH_TOKEN and MCP_JWT_SECRET are not set; mcp auth disabled")
	}

	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.mcpPath, s.handleMCP)
	mux.HandleFunc("/healthz", s.handleHealth)
	if opts.Metrics != nil && opts.MetricsPath != "" {
		mux.Handle(opts.MetricsPath, opts.Metrics)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withRecover(s.withRequestID(withCORS(mux))),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen binds the configured address. Run calls it when needed.
func (s *Server) Listen() (net.Addr, error) {
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, err
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Run serves until ctx is cancelled, then shuts down gracefully and closes
// every open session.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	if _, err := s.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Closing sessions ends standalone streams so Shutdown can drain them.
		s.sessions.CloseAll()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		s.sessions.CloseAll()
		return err
	}
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	credential, err := s.auth.verify(r)
	if err != nil {
		s.observer.Rejected("unauthorized")
		s.logger.Warn("mcp auth failed", "request_id", requestIDFrom(r.Context()), "remote_addr", r.RemoteAddr, "error", err)
		w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
		writeFailure(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	key := ratelimiter.ClientKey(r, privacylog.Fingerprint(credential))
	if !s.limiter.Allow(key, s.now()) {
		s.observer.Rejected("rate_limited")
		w.Header().Set("Retry-After", "1")
		writeFailure(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded")
		return
	}

	info := mcp.NewRequestInfo(r, requestIDFrom(r.Context()))
	r = r.WithContext(mcp.WithRequestInfo(r.Context(), info))
	if err := s.mcp.ServeMCP(w, r); err != nil {
		s.logger.Error("error handling mcp request", "request_id", info.RequestID, "method", r.Method, "error", err)
		writeFailure(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

type failure struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeFailure(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(failure{Error: title, Message: message})
}
