package streamhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/matsjfunke/header-test-mcp/internal/mcp"
	"github.com/matsjfunke/header-test-mcp/internal/session"
	"go.lsp.dev/jsonrpc2"
)

// postStream names the event-log stream that numbers POST response events.
// It is never replayed on the standalone stream.
const postStream = "post"

func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) error {
	started := time.Now()
	if !accepts(r, mediaJSON) || (!t.jsonResponse && !accepts(r, mediaSSE)) {
		t.reject(w, "accept", http.StatusNotAcceptable, codeTransport,
			"Not Acceptable: Client must accept both application/json and text/event-stream")
		return nil
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != mediaJSON {
		t.reject(w, "content_type", http.StatusUnsupportedMediaType, codeTransport,
			"Unsupported Media Type: Content-Type must be application/json")
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if len(body) > maxBodyBytes {
		t.reject(w, "body_size", http.StatusRequestEntityTooLarge, codeTransport, "Payload Too Large")
		return nil
	}
	items, batch, err := splitBatch(body)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		t.reject(w, "invalid_request", http.StatusBadRequest, jsonrpc2.InvalidRequest, "Invalid Request: empty batch")
		return nil
	}

	msgs := make([]jsonrpc2.Message, 0, len(items))
	var initCall *jsonrpc2.Call
	ids := idTable{}
	for i, item := range items {
		item, err := ids.normalize(item, i)
		if err != nil {
			t.reject(w, "invalid_request", http.StatusBadRequest, jsonrpc2.InvalidRequest, "Invalid Request: "+err.Error())
			return nil
		}
		msg, err := jsonrpc2.DecodeMessage(item)
		if err != nil {
			t.reject(w, "invalid_request", http.StatusBadRequest, jsonrpc2.InvalidRequest, "Invalid Request: "+err.Error())
			return nil
		}
		if call, ok := msg.(*jsonrpc2.Call); ok && call.Method() == mcp.MethodInitialize {
			if initCall != nil {
				t.reject(w, "invalid_request", http.StatusBadRequest, jsonrpc2.InvalidRequest,
					"Invalid Request: Only one initialization request is allowed")
				return nil
			}
			initCall = call
			continue
		}
		msgs = append(msgs, msg)
	}

	sess, ok := t.resolvePostSession(w, r, initCall != nil)
	if !ok {
		return nil
	}

	ctx := r.Context()
	info, _ := mcp.RequestInfoFrom(ctx)
	t.logger.Debug("mcp request",
		"request_id", info.RequestID,
		"session_id", sess.ID(),
		"methods", methodNames(initCall, msgs),
	)

	var responses []*jsonrpc2.Response
	active := initCall == nil
	if initCall != nil {
		resp := t.handler.HandleCall(ctx, sess, initCall)
		if resp.Err() == nil {
			if err := sess.Activate(); err != nil {
				return fmt.Errorf("activate session: %w", err)
			}
			active = true
			w.Header().Set(HeaderSessionID, sess.ID())
		} else {
			sess.Close()
		}
		responses = append(responses, resp)
	}

	var calls []*jsonrpc2.Call
	for _, msg := range msgs {
		switch m := msg.(type) {
		case *jsonrpc2.Call:
			calls = append(calls, m)
		case *jsonrpc2.Notification:
			if active {
				t.handler.HandleNotification(ctx, sess, m)
			}
		case *jsonrpc2.Response:
			t.logger.Debug("ignoring client response", "session_id", sess.ID())
		}
	}
	if len(responses) == 0 && len(calls) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return nil
	}

	answer := func(call *jsonrpc2.Call) *jsonrpc2.Response {
		if !active {
			resp, _ := jsonrpc2.NewResponse(call.ID(), nil,
				jsonrpc2.NewError(codeTransport, "Bad Request: Server not initialized"))
			return resp
		}
		return t.handler.HandleCall(ctx, sess, call)
	}

	if t.jsonResponse {
		for _, call := range calls {
			responses = append(responses, answer(call))
		}
		err = writeJSONResponses(w, ids, responses, batch)
	} else {
		err = t.streamResponses(w, sess, ids, responses, calls, answer)
	}
	t.logger.Info("mcp response",
		"request_id", info.RequestID,
		"session_id", sess.ID(),
		"responses", len(responses)+len(calls),
		"latency_ms", time.Since(started).Milliseconds(),
	)
	if err != nil {
		t.logger.Debug("mcp response write failed", "session_id", sess.ID(), "error", err)
	}
	return nil
}

// resolvePostSession reuses the session named by the request header or, for
// initialize, creates a fresh one.
func (t *Transport) resolvePostSession(w http.ResponseWriter, r *http.Request, initializing bool) (*session.Session, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderSessionID))
	if existing, ok := t.registry.Lookup(id); ok {
		t.logger.Info("session reused", "session_id", existing.ID())
		if initializing {
			t.reject(w, "already_initialized", http.StatusBadRequest, jsonrpc2.InvalidRequest,
				"Invalid Request: Server already initialized")
			return nil, false
		}
		if !t.checkProtocolVersion(w, r) {
			return nil, false
		}
		w.Header().Set(HeaderSessionID, existing.ID())
		return existing, true
	}
	if initializing {
		return t.registry.Create(), true
	}
	if id == "" {
		t.reject(w, "not_initialized", http.StatusBadRequest, codeTransport, "Bad Request: Server not initialized")
		return nil, false
	}
	t.reject(w, "unknown_session", http.StatusNotFound, codeSessionNotFound, "Session not found")
	return nil, false
}

func (t *Transport) streamResponses(w http.ResponseWriter, sess *session.Session, ids idTable, ready []*jsonrpc2.Response, calls []*jsonrpc2.Call, answer func(*jsonrpc2.Call) *jsonrpc2.Response) error {
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flush(w)

	send := func(resp *jsonrpc2.Response) error {
		data, err := ids.encode(resp)
		if err != nil {
			return err
		}
		evt, err := sess.Events().Publish(postStream, data)
		if err != nil {
			// The session closed mid-request; deliver the answer unnumbered.
			evt = session.Event{Data: data}
		}
		if err := writeSSEEvent(w, evt); err != nil {
			return err
		}
		flush(w)
		return nil
	}
	for _, resp := range ready {
		if err := send(resp); err != nil {
			return err
		}
	}
	for _, call := range calls {
		if err := send(answer(call)); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONResponses(w http.ResponseWriter, ids idTable, responses []*jsonrpc2.Response, batch bool) error {
	encoded := make([]json.RawMessage, 0, len(responses))
	for _, resp := range responses {
		data, err := ids.encode(resp)
		if err != nil {
			return err
		}
		encoded = append(encoded, data)
	}
	w.Header().Set("Content-Type", mediaJSON)
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	if batch || len(encoded) > 1 {
		return enc.Encode(encoded)
	}
	return enc.Encode(encoded[0])
}

// splitBatch returns the individual messages of body and whether it was sent
// as a JSON array.
func splitBatch(body []byte) ([]json.RawMessage, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, false, fmt.Errorf("%w: invalid JSON", ErrMalformedBody)
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, false, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return items, true, nil
}

func methodNames(initCall *jsonrpc2.Call, msgs []jsonrpc2.Message) []string {
	out := make([]string, 0, len(msgs)+1)
	if initCall != nil {
		out = append(out, initCall.Method())
	}
	for _, msg := range msgs {
		switch m := msg.(type) {
		case *jsonrpc2.Call:
			out = append(out, m.Method())
		case *jsonrpc2.Notification:
			out = append(out, m.Method())
		default:
			out = append(out, "response")
		}
	}
	return out
}
