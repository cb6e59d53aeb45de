package streamhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/matsjfunke/header-test-mcp/internal/mcp"
	"github.com/matsjfunke/header-test-mcp/internal/session"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test","version":"0.0.1"}}}`

type countingObserver struct {
	created    atomic.Int32
	registered atomic.Int32
	removed    atomic.Int32
}

func (o *countingObserver) SessionCreated()    { o.created.Add(1) }
func (o *countingObserver) SessionRegistered() { o.registered.Add(1) }
func (o *countingObserver) SessionRemoved()    { o.removed.Add(1) }

type rejectionRecorder struct {
	reasons []string
}

func (r *rejectionRecorder) Rejected(reason string) { r.reasons = append(r.reasons, reason) }

type fixture struct {
	transport *Transport
	registry  *session.Registry
	sessions  *countingObserver
	rejected  *rejectionRecorder
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := &countingObserver{}
	registry := session.NewRegistry(session.Options{Observer: sessions, Logger: logger})
	server := mcp.NewServer(mcp.Options{Logger: logger})
	if err := server.AddTool(mcp.HeadersTool()); err != nil {
		t.Fatalf("add tool: %v", err)
	}
	rejected := &rejectionRecorder{}
	opts := Options{
		Registry: registry,
		Handler:  server,
		Observer: rejected,
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	tr, err := New(opts)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	return &fixture{transport: tr, registry: registry, sessions: sessions, rejected: rejected}
}

func (f *fixture) post(t *testing.T, sessionID, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	if err := f.transport.ServeMCP(rec, req); err != nil {
		t.Fatalf("serve: %v", err)
	}
	return rec
}

func (f *fixture) initialize(t *testing.T) string {
	t.Helper()
	rec := f.post(t, "", initializeBody, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize status %d: %s", rec.Code, rec.Body.String())
	}
	id := rec.Header().Get(HeaderSessionID)
	if id == "" {
		t.Fatal("initialize must return a session id")
	}
	return id
}

// sseMessages decodes the data lines of an SSE body.
func sseMessages(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			t.Fatalf("decode sse data %q: %v", data, err)
		}
		out = append(out, msg)
	}
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (float64, string) {
	t.Helper()
	var payload struct {
		ID    *json.RawMessage `json:"id"`
		Error struct {
			Code    float64 `json:"code"`
			Message string  `json:"message"`
		} `json:"error"`
	}
	raw := rec.Body.Bytes()
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode error body %q: %v", raw, err)
	}
	if !strings.Contains(string(raw), `"id":null`) {
		t.Fatalf("expected null id in %s", raw)
	}
	return payload.Error.Code, payload.Error.Message
}

func TestInitializeOverSSE(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "", initializeBody, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "event: message\nid: 1\n") {
		t.Fatalf("expected numbered message event, got %q", rec.Body.String())
	}
	msgs := sseMessages(t, rec.Body.String())
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	result, _ := msgs[0]["result"].(map[string]any)
	if result["protocolVersion"] != "2025-06-18" {
		t.Fatalf("unexpected initialize result: %v", msgs[0])
	}
	sid := rec.Header().Get(HeaderSessionID)
	sess, ok := f.registry.Lookup(sid)
	if !ok || sess.State() != session.StateActive {
		t.Fatalf("expected active registered session %q", sid)
	}
}

func TestFollowUpRequestReusesSession(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.initialize(t)

	rec := f.post(t, sid,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get-request-headers","arguments":{}}}`,
		map[string]string{"X-Test": "abc"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if f.sessions.created.Load() != 1 || f.registry.Len() != 1 {
		t.Fatalf("expected a single session, created=%d len=%d", f.sessions.created.Load(), f.registry.Len())
	}
	if got := rec.Header().Get(HeaderSessionID); got != sid {
		t.Fatalf("expected session header %q on follow-up response, got %q", sid, got)
	}

	msgs := sseMessages(t, rec.Body.String())
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	result, _ := msgs[0]["result"].(map[string]any)
	content, _ := result["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("unexpected tool result %v", msgs[0])
	}
	text, _ := content[0].(map[string]any)["text"].(string)
	var payload struct {
		Success bool           `json:"success"`
		Headers map[string]any `json:"headers"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("decode tool text: %v", err)
	}
	if !payload.Success || payload.Headers["x-test"] != "abc" {
		t.Fatalf("unexpected headers payload: %s", text)
	}
	if payload.Headers[strings.ToLower(HeaderSessionID)] != sid {
		t.Fatalf("expected the session header to be reported, got %v", payload.Headers)
	}
}

func TestJSONResponseMode(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.JSONResponse = true })
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initializeBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	if err := f.transport.ServeMCP(rec, req); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	var single map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &single); err != nil {
		t.Fatalf("expected a single object: %v", err)
	}
	sid := rec.Header().Get(HeaderSessionID)

	batch := f.post(t, sid, `[{"jsonrpc":"2.0","id":"a","method":"ping"},{"jsonrpc":"2.0","id":"b","method":"tools/list"}]`, nil)
	var out []map[string]any
	if err := json.Unmarshal(batch.Body.Bytes(), &out); err != nil {
		t.Fatalf("expected an array: %v (%s)", err, batch.Body.String())
	}
	if len(out) != 2 || out[0]["id"] != "a" || out[1]["id"] != "b" {
		t.Fatalf("unexpected batch response %v", out)
	}
	if got := batch.Header().Get(HeaderSessionID); got != sid {
		t.Fatalf("expected session header %q on batch response, got %q", sid, got)
	}
}

func TestIDsBeyondInt32AreEchoed(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.initialize(t)

	rec := f.post(t, sid, `{"jsonrpc":"2.0","id":3000000000,"method":"tools/list"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"id":3000000000`) {
		t.Fatalf("expected original id in %s", rec.Body.String())
	}
	msgs := sseMessages(t, rec.Body.String())
	if len(msgs) != 1 || msgs[0]["result"] == nil {
		t.Fatalf("unexpected response %v", msgs)
	}

	jf := newFixture(t, func(o *Options) { o.JSONResponse = true })
	jsid := jf.initialize(t)
	batch := jf.post(t, jsid,
		`[{"jsonrpc":"2.0","id":-9007199254740991,"method":"ping"},{"jsonrpc":"2.0","id":7,"method":"no/such"}]`, nil)
	if batch.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", batch.Code, batch.Body.String())
	}
	var out []map[string]json.RawMessage
	if err := json.Unmarshal(batch.Body.Bytes(), &out); err != nil {
		t.Fatalf("expected an array: %v (%s)", err, batch.Body.String())
	}
	if len(out) != 2 || string(out[0]["id"]) != "-9007199254740991" || string(out[1]["id"]) != "7" {
		t.Fatalf("unexpected ids in %s", batch.Body.String())
	}
	if out[1]["error"] == nil {
		t.Fatalf("expected an error for the unknown method: %s", batch.Body.String())
	}
}

func TestNullRequestIDIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.initialize(t)

	rec := f.post(t, sid, `{"jsonrpc":"2.0","id":null,"method":"tools/list"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if code, msg := decodeError(t, rec); code != -32600 || !strings.Contains(msg, "id must not be null") {
		t.Fatalf("unexpected error %v %q", code, msg)
	}
}

func TestNotificationsOnlyAreAccepted(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.initialize(t)
	rec := f.post(t, sid, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	if rec.Code != http.StatusAccepted || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 202, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRequestWithoutSessionIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	code, msg := decodeError(t, rec)
	if code != -32000 || msg != "Bad Request: Server not initialized" {
		t.Fatalf("unexpected error %v %q", code, msg)
	}
	if f.registry.Len() != 0 {
		t.Fatal("rejected requests must not register sessions")
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "does-not-exist", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if code, _ := decodeError(t, rec); code != -32001 {
		t.Fatalf("unexpected code %v", code)
	}
}

func TestInitializeRejections(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.initialize(t)

	rec := f.post(t, sid, initializeBody, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("re-initialize: unexpected status %d", rec.Code)
	}
	if _, msg := decodeError(t, rec); !strings.Contains(msg, "already initialized") {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = f.post(t, "", "["+initializeBody+","+initializeBody+"]", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("double initialize: unexpected status %d", rec.Code)
	}
	if f.registry.Len() != 1 {
		t.Fatalf("expected one session, got %d", f.registry.Len())
	}
}

func TestFailedInitializeDoesNotRegister(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":"bogus"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if rec.Header().Get(HeaderSessionID) != "" {
		t.Fatal("failed initialize must not issue a session id")
	}
	msgs := sseMessages(t, rec.Body.String())
	if len(msgs) != 1 || msgs[0]["error"] == nil {
		t.Fatalf("expected an error response, got %v", msgs)
	}
	if f.registry.Len() != 0 {
		t.Fatal("failed initialize must not register a session")
	}
}

func TestMalformedBodyIsReturnedToCaller(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	err := f.transport.ServeMCP(httptest.NewRecorder(), req)
	if !errors.Is(err, ErrMalformedBody) {
		t.Fatalf("expected ErrMalformedBody, got %v", err)
	}
}

func TestStructurallyInvalidMessage(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "", `{"foo":1}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if code, _ := decodeError(t, rec); code != -32600 {
		t.Fatalf("unexpected code %v", code)
	}
}

func TestPostNegotiation(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.post(t, "", initializeBody, map[string]string{"Accept": "application/json"})
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("accept: unexpected status %d", rec.Code)
	}
	rec = f.post(t, "", initializeBody, map[string]string{"Content-Type": "text/plain"})
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("content type: unexpected status %d", rec.Code)
	}
	rec = f.post(t, "", initializeBody, map[string]string{"Content-Type": "application/json; charset=utf-8"})
	if rec.Code != http.StatusOK {
		t.Fatalf("content type params must be accepted, got %d", rec.Code)
	}
	if len(f.rejected.reasons) != 2 || f.rejected.reasons[0] != "accept" || f.rejected.reasons[1] != "content_type" {
		t.Fatalf("unexpected rejection reasons %v", f.rejected.reasons)
	}
}

func TestUnsupportedProtocolVersionHeader(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.initialize(t)
	rec := f.post(t, sid, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, map[string]string{HeaderProtocolVersion: "1999-01-01"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestDeleteClosesSession(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.initialize(t)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(HeaderSessionID, sid)
	rec := httptest.NewRecorder()
	if err := f.transport.ServeMCP(rec, req); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if f.registry.Len() != 0 || f.sessions.removed.Load() != 1 {
		t.Fatal("expected session to be removed")
	}

	rec = f.post(t, sid, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected closed session to be unknown, got %d", rec.Code)
	}
}

func TestDeleteRequiresSession(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	if err := f.transport.ServeMCP(rec, httptest.NewRequest(http.MethodDelete, "/mcp", nil)); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestUnsupportedMethod(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	if err := f.transport.ServeMCP(rec, httptest.NewRequest(http.MethodPut, "/mcp", nil)); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") == "" {
		t.Fatalf("unexpected response %d allow=%q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestDNSRebindingProtection(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.DNSRebindingProtection = true
		o.AllowedHosts = []string{"localhost:3333"}
	})
	rec := f.post(t, "", initializeBody, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected foreign host to be rejected, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "http://localhost:3333/mcp", strings.NewReader(initializeBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	ok := httptest.NewRecorder()
	if err := f.transport.ServeMCP(ok, req); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if ok.Code != http.StatusOK {
		t.Fatalf("expected allowed host, got %d", ok.Code)
	}
}

func (f *fixture) get(t *testing.T, ctx context.Context, sessionID string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	if err := f.transport.ServeMCP(rec, req); err != nil {
		t.Fatalf("serve: %v", err)
	}
	return rec
}

func TestStandaloneStreamReplaysAfterLastEventID(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.initialize(t)
	sess, _ := f.registry.Lookup(sid)

	first, err := sess.Events().Publish(session.StandaloneStream, []byte(`{"jsonrpc":"2.0","method":"one"}`))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := sess.Events().Publish(session.StandaloneStream, []byte(`{"jsonrpc":"2.0","method":"two"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := f.get(t, ctx, sid, map[string]string{HeaderLastEventID: strconv.FormatInt(first.Seq, 10)})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	msgs := sseMessages(t, rec.Body.String())
	if len(msgs) != 1 || msgs[0]["method"] != "two" {
		t.Fatalf("expected only the event after the cursor, got %v", msgs)
	}
	if _, attached := sess.AttachStream(); !attached {
		t.Fatal("stream slot must be released when the stream ends")
	}
}

func TestStandaloneStreamRejections(t *testing.T) {
	limiter := NewStreamLimiter(1, 1)
	f := newFixture(t, func(o *Options) { o.Streams = limiter })
	sid := f.initialize(t)
	sess, _ := f.registry.Lookup(sid)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set(HeaderSessionID, sid)
	rec := httptest.NewRecorder()
	if err := f.transport.ServeMCP(rec, req); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("accept: unexpected status %d", rec.Code)
	}

	if rec := f.get(t, ctx, "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing session: unexpected status %d", rec.Code)
	}
	if rec := f.get(t, ctx, "nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: unexpected status %d", rec.Code)
	}
	if rec := f.get(t, ctx, sid, map[string]string{HeaderLastEventID: "abc"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor: unexpected status %d", rec.Code)
	}

	detach, ok := sess.AttachStream()
	if !ok {
		t.Fatal("expected to claim the stream slot")
	}
	if rec := f.get(t, ctx, sid, nil); rec.Code != http.StatusConflict {
		t.Fatalf("second stream: unexpected status %d", rec.Code)
	}
	detach()

	release, ok := limiter.acquire("other")
	if !ok {
		t.Fatal("expected limiter slot")
	}
	defer release()
	if rec := f.get(t, ctx, sid, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("stream limit: unexpected status %d", rec.Code)
	}
}

func TestToolCallLogReachesStandaloneStream(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.initialize(t)
	if rec := f.post(t, sid, `{"jsonrpc":"2.0","id":2,"method":"logging/setLevel","params":{"level":"debug"}}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("set level: %d", rec.Code)
	}
	if rec := f.post(t, sid, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get-request-headers"}}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("tool call: %d", rec.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := f.get(t, ctx, sid, nil)
	msgs := sseMessages(t, rec.Body.String())
	if len(msgs) != 1 || msgs[0]["method"] != "notifications/message" {
		t.Fatalf("expected a log notification, got %v", msgs)
	}
}
