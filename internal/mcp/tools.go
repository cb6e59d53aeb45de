package mcp

import (
	"context"
	"encoding/json"
	"errors"
)

const HeadersToolName = "get-request-headers"

// ToolHandler runs a tool. A returned error is reported to the caller as a
// tool-level error result, not as a protocol failure.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*CallToolResult, error)

type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

func (t Tool) descriptor() ToolDescriptor {
	schema := t.InputSchema
	if schema == nil {
		schema = emptyObjectSchema()
	}
	return ToolDescriptor{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}

func emptyObjectSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

type headersPayload struct {
	Success bool           `json:"success"`
	Headers map[string]any `json:"headers"`
}

// HeadersTool reports the headers of the request it was invoked on.
func HeadersTool() Tool {
	return Tool{
		Name:        HeadersToolName,
		Description: "Get all headers that were sent with the current request",
		InputSchema: emptyObjectSchema(),
		Handler:     handleGetRequestHeaders,
	}
}

func handleGetRequestHeaders(ctx context.Context, _ json.RawMessage) (*CallToolResult, error) {
	info, ok := RequestInfoFrom(ctx)
	if !ok {
		return nil, errors.New("no request context")
	}
	raw, err := json.MarshalIndent(headersPayload{
		Success: true,
		Headers: info.HeaderMap(),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return TextResult(string(raw)), nil
}
