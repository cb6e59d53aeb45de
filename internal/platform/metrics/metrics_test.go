package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionLifecycleCounters(t *testing.T) {
	m := New(false)
	m.SessionCreated()
	m.SessionCreated()
	m.SessionRegistered()
	m.SessionRegistered()
	m.SessionRemoved()

	if got := testutil.ToFloat64(m.sessionsCreated); got != 2 {
		t.Fatalf("sessions created: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sessionsActive); got != 1 {
		t.Fatalf("sessions active: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessionsClosed); got != 1 {
		t.Fatalf("sessions closed: got %v, want 1", got)
	}
}

func TestRPCAndToolCounters(t *testing.T) {
	m := New(false)
	m.RPCHandled("tools/call", "ok", 2*time.Millisecond)
	m.RPCHandled("tools/call", "error", time.Millisecond)
	m.ToolCalled("get-request-headers", "ok")
	m.Rejected("rate_limited")

	if got := testutil.ToFloat64(m.rpcRequests.WithLabelValues("tools/call", "ok")); got != 1 {
		t.Fatalf("rpc ok: got %v", got)
	}
	if got := testutil.ToFloat64(m.toolCalls.WithLabelValues("get-request-headers", "ok")); got != 1 {
		t.Fatalf("tool calls: got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRejections.WithLabelValues("rate_limited")); got != 1 {
		t.Fatalf("rejections: got %v", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := New(false)
	m.SessionCreated()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "header_mcp_sessions_created_total 1") {
		t.Fatalf("missing counter in exposition:\n%s", rec.Body.String())
	}
}
