package streamhttp

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matsjfunke/header-test-mcp/internal/session"
)

func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request) error {
	if !accepts(r, mediaSSE) {
		t.reject(w, "accept", http.StatusNotAcceptable, codeTransport,
			"Not Acceptable: Client must accept text/event-stream")
		return nil
	}
	sess, ok := t.requireSession(w, r)
	if !ok {
		return nil
	}
	if !t.checkProtocolVersion(w, r) {
		return nil
	}

	cursor := int64(0)
	if raw := strings.TrimSpace(r.Header.Get(HeaderLastEventID)); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			t.reject(w, "last_event_id", http.StatusBadRequest, codeTransport, "Bad Request: invalid Last-Event-ID")
			return nil
		}
		cursor = v
	}

	release, allowed := t.streams.acquire(t.clientKey(r))
	if !allowed {
		t.reject(w, "stream_limit", http.StatusTooManyRequests, codeTransport, "Too Many Requests: stream limit reached")
		return nil
	}
	defer release()

	detach, attached := sess.AttachStream()
	if !attached {
		t.reject(w, "stream_conflict", http.StatusConflict, codeTransport,
			"Conflict: Only one SSE stream is allowed per session")
		return nil
	}
	defer detach()

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming is not supported by %T", w)
	}

	setSSEHeaders(w)
	w.Header().Set(HeaderSessionID, sess.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	replay, ch, cancel := sess.Events().Subscribe(session.StandaloneStream, cursor)
	defer cancel()
	t.logger.Debug("standalone stream opened", "session_id", sess.ID(), "replayed", len(replay))

	for _, evt := range replay {
		if err := writeSSEEvent(w, evt); err != nil {
			return nil
		}
		flusher.Flush()
	}

	heartbeat := time.NewTicker(t.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeSSEEvent(w, evt); err != nil {
				return nil
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent frames one JSON-RPC message. Events without a sequence
// number are sent without an id line.
func writeSSEEvent(w http.ResponseWriter, evt session.Event) error {
	if _, err := fmt.Fprint(w, "event: message\n"); err != nil {
		return err
	}
	if evt.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", evt.Seq); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", evt.Data); err != nil {
		return err
	}
	return nil
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", mediaSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
