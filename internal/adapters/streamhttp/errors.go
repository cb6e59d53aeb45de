package streamhttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.lsp.dev/jsonrpc2"
)

// ErrMalformedBody marks request bodies that could not be read or parsed as
// JSON. Callers surface it as an internal server error.
var ErrMalformedBody = errors.New("malformed request body")

// Transport-level failures use the implementation-defined server error range.
const (
	codeTransport       jsonrpc2.Code = -32000
	codeSessionNotFound jsonrpc2.Code = -32001
)

type wireError struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   *jsonrpc2.Error `json:"error"`
	ID      any             `json:"id"`
}

// writeRPCError writes a JSON-RPC error that is not tied to a request id.
func writeRPCError(w http.ResponseWriter, status int, code jsonrpc2.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(wireError{
		JSONRPC: jsonrpc2.Version,
		Error:   jsonrpc2.NewError(code, message),
	})
}
