package mcp

import (
	"errors"
	"fmt"

	"go.lsp.dev/jsonrpc2"
)

// ErrUnknownTool is wrapped by tool lookups that miss.
var ErrUnknownTool = errors.New("unknown tool")

func methodNotFound(method string) *jsonrpc2.Error {
	return jsonrpc2.Errorf(jsonrpc2.MethodNotFound, "Method not found: %s", method)
}

func invalidParams(err error) *jsonrpc2.Error {
	if err == nil {
		return jsonrpc2.NewError(jsonrpc2.InvalidParams, "Invalid params")
	}
	return jsonrpc2.Errorf(jsonrpc2.InvalidParams, "Invalid params: %v", err)
}

func internalError(v any) *jsonrpc2.Error {
	return jsonrpc2.Errorf(jsonrpc2.InternalError, "Internal error: %v", v)
}

func unknownToolError(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownTool, name)
}
