// Package streamhttp serves MCP over the streamable HTTP transport.
package streamhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/matsjfunke/header-test-mcp/internal/mcp"
	"github.com/matsjfunke/header-test-mcp/internal/platform/ratelimiter"
	"github.com/matsjfunke/header-test-mcp/internal/session"
	"go.lsp.dev/jsonrpc2"
)

const (
	HeaderSessionID       = "Mcp-Session-Id"
	HeaderProtocolVersion = "Mcp-Protocol-Version"
	HeaderLastEventID     = "Last-Event-ID"

	mediaJSON = "application/json"
	mediaSSE  = "text/event-stream"

	DefaultHeartbeat = 20 * time.Second
	maxBodyBytes     = 4 << 20
)

// MessageHandler answers decoded JSON-RPC traffic for a session.
type MessageHandler interface {
	HandleCall(ctx context.Context, sess *session.Session, call *jsonrpc2.Call) *jsonrpc2.Response
	HandleNotification(ctx context.Context, sess *session.Session, n *jsonrpc2.Notification)
}

// Observer counts requests the transport turns away.
type Observer interface {
	Rejected(reason string)
}

type nopObserver struct{}

func (nopObserver) Rejected(string) {}

type Options struct {
	Registry *session.Registry
	Handler  MessageHandler
	// JSONResponse answers POSTs with plain JSON instead of an SSE stream.
	JSONResponse bool
	Heartbeat    time.Duration
	Streams      *StreamLimiter
	// ClientKey identifies the caller for stream limits.
	ClientKey func(*http.Request) string

	DNSRebindingProtection bool
	AllowedHosts           []string
	AllowedOrigins         []string

	Observer Observer
	Logger   *slog.Logger
}

// Transport implements the streamable HTTP framing of MCP on a single
// endpoint: POST carries client messages, GET opens the server stream and
// DELETE ends the session.
type Transport struct {
	registry     *session.Registry
	handler      MessageHandler
	jsonResponse bool
	heartbeat    time.Duration
	streams      *StreamLimiter
	clientKey    func(*http.Request) string

	dnsProtection  bool
	allowedHosts   []string
	allowedOrigins []string

	observer Observer
	logger   *slog.Logger
}

func New(opts Options) (*Transport, error) {
	if opts.Registry == nil {
		return nil, errors.New("streamhttp: registry is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("streamhttp: handler is required")
	}
	t := &Transport{
		registry:       opts.Registry,
		handler:        opts.Handler,
		jsonResponse:   opts.JSONResponse,
		heartbeat:      opts.Heartbeat,
		streams:        opts.Streams,
		clientKey:      opts.ClientKey,
		dnsProtection:  opts.DNSRebindingProtection,
		allowedHosts:   opts.AllowedHosts,
		allowedOrigins: opts.AllowedOrigins,
		observer:       opts.Observer,
		logger:         opts.Logger,
	}
	if t.heartbeat <= 0 {
		t.heartbeat = DefaultHeartbeat
	}
	if t.clientKey == nil {
		t.clientKey = func(r *http.Request) string {
			return ratelimiter.ClientKey(r, "")
		}
	}
	if t.observer == nil {
		t.observer = nopObserver{}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t, nil
}

// ServeMCP handles one request to the MCP endpoint. Protocol violations are
// answered directly; a non-nil error means the request could not be
// processed and the caller owns the failure response.
func (t *Transport) ServeMCP(w http.ResponseWriter, r *http.Request) error {
	if !t.checkRebinding(w, r) {
		return nil
	}
	ctx := r.Context()
	if _, ok := mcp.RequestInfoFrom(ctx); !ok {
		ctx = mcp.WithRequestInfo(ctx, mcp.NewRequestInfo(r, ""))
		r = r.WithContext(ctx)
	}
	switch r.Method {
	case http.MethodPost:
		return t.handlePost(w, r)
	case http.MethodGet:
		return t.handleGet(w, r)
	case http.MethodDelete:
		t.handleDelete(w, r)
		return nil
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		t.reject(w, "method", http.StatusMethodNotAllowed, codeTransport, "Method not allowed.")
		return nil
	}
}

// ServeHTTP adapts ServeMCP for callers that do not need the error.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := t.ServeMCP(w, r); err != nil {
		t.logger.Error("mcp request failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (t *Transport) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := t.requireSession(w, r)
	if !ok {
		return
	}
	if !t.checkProtocolVersion(w, r) {
		return
	}
	sess.Close()
	t.logger.Info("session closed", "session_id", sess.ID(), "reason", "client_delete")
	w.WriteHeader(http.StatusOK)
}

// requireSession resolves the session named by the request header.
func (t *Transport) requireSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderSessionID))
	if id == "" {
		t.reject(w, "missing_session", http.StatusBadRequest, codeTransport, "Bad Request: Mcp-Session-Id header is required")
		return nil, false
	}
	sess, ok := t.registry.Lookup(id)
	if !ok {
		t.reject(w, "unknown_session", http.StatusNotFound, codeSessionNotFound, "Session not found")
		return nil, false
	}
	return sess, true
}

func (t *Transport) checkProtocolVersion(w http.ResponseWriter, r *http.Request) bool {
	v := strings.TrimSpace(r.Header.Get(HeaderProtocolVersion))
	if v == "" || mcp.IsSupportedProtocolVersion(v) {
		return true
	}
	t.reject(w, "protocol_version", http.StatusBadRequest, codeTransport, "Bad Request: Unsupported protocol version: "+v)
	return false
}

func (t *Transport) checkRebinding(w http.ResponseWriter, r *http.Request) bool {
	if !t.dnsProtection {
		return true
	}
	if len(t.allowedHosts) > 0 && !slices.Contains(t.allowedHosts, r.Host) {
		t.reject(w, "host", http.StatusForbidden, codeTransport, "Invalid Host header: "+r.Host)
		return false
	}
	if len(t.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if !slices.Contains(t.allowedOrigins, origin) {
			t.reject(w, "origin", http.StatusForbidden, codeTransport, "Invalid Origin header: "+origin)
			return false
		}
	}
	return true
}

func (t *Transport) reject(w http.ResponseWriter, reason string, status int, code jsonrpc2.Code, message string) {
	t.observer.Rejected(reason)
	writeRPCError(w, status, code, message)
}

// accepts reports whether any Accept value names the media type.
func accepts(r *http.Request, media string) bool {
	for _, v := range r.Header.Values("Accept") {
		for _, part := range strings.Split(v, ",") {
			mt, _, _ := strings.Cut(part, ";")
			if strings.EqualFold(strings.TrimSpace(mt), media) {
				return true
			}
		}
	}
	return false
}
