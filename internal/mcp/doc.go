// Package mcp implements the Model Context Protocol request handler behind
// the HTTP transport.
//
// Responsibilities:
// - Answer initialize, ping, tools/list, tools/call and logging/setLevel.
// - Expose the get-request-headers tool over the per-request context.
// - Publish log notifications to the session event stream.
//
// Non-responsibilities:
// - Session lookup, HTTP framing, SSE writing.
package mcp
