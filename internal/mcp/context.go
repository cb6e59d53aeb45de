package mcp

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const requestInfoKey contextKey = "mcp.request"

// RequestInfo describes the inbound HTTP request a message arrived on. It is
// valid for the duration of that request only.
type RequestInfo struct {
	RequestID  string
	Method     string
	Host       string
	RemoteAddr string
	Header     http.Header
}

func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey).(RequestInfo)
	return info, ok
}

// HeaderMap flattens the request headers into lowercased names. Headers that
// appear once map to a string, repeated headers map to a []string.
func (i RequestInfo) HeaderMap() map[string]any {
	out := make(map[string]any, len(i.Header)+1)
	for name, values := range i.Header {
		key := strings.ToLower(name)
		switch len(values) {
		case 0:
			continue
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	if i.Host != "" {
		if _, ok := out["host"]; !ok {
			out["host"] = i.Host
		}
	}
	return out
}

// NewRequestInfo captures the parts of r that tools may inspect. The header
// map is cloned so handlers never alias the live request.
func NewRequestInfo(r *http.Request, requestID string) RequestInfo {
	return RequestInfo{
		RequestID:  requestID,
		Method:     r.Method,
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header.Clone(),
	}
}
