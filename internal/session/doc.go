// Package session tracks the client sessions of the MCP endpoint.
//
// Responsibilities:
// - Generate session identifiers and own the id -> session table.
// - Drive the initializing -> active -> closed lifecycle.
// - Keep the bounded outbound event history used for SSE resumption.
//
// Non-responsibilities:
// - HTTP framing and JSON-RPC method handling.
package session
