package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/matsjfunke/header-test-mcp/internal/session"
	"go.lsp.dev/jsonrpc2"
)

// Observer receives per-call outcomes, typically for metrics.
type Observer interface {
	RPCHandled(method, outcome string, elapsed time.Duration)
	ToolCalled(tool, outcome string)
}

type nopObserver struct{}

func (nopObserver) RPCHandled(string, string, time.Duration) {}
func (nopObserver) ToolCalled(string, string)                {}

type Options struct {
	Name     string
	Version  string
	Observer Observer
	Logger   *slog.Logger
}

// Server answers MCP requests for a set of registered tools. It holds no
// per-request state; request data travels in the context.
type Server struct {
	info     Implementation
	tools    []Tool
	byName   map[string]Tool
	observer Observer
	logger   *slog.Logger
}

func NewServer(opts Options) *Server {
	s := &Server{
		info: Implementation{
			Name:    opts.Name,
			Version: opts.Version,
		},
		byName:   make(map[string]Tool),
		observer: opts.Observer,
		logger:   opts.Logger,
	}
	if s.info.Name == "" {
		s.info.Name = ServerName
	}
	if s.info.Version == "" {
		s.info.Version = ServerVersion
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Server) AddTool(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool requires a name and a handler")
	}
	if _, exists := s.byName[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	s.tools = append(s.tools, t)
	s.byName[t.Name] = t
	return nil
}

func (s *Server) ListTools() ListToolsResult {
	out := ListToolsResult{Tools: make([]ToolDescriptor, 0, len(s.tools))}
	for _, t := range s.tools {
		out.Tools = append(out.Tools, t.descriptor())
	}
	return out
}

// HandleCall answers one request. The returned response is never nil.
func (s *Server) HandleCall(ctx context.Context, sess *session.Session, call *jsonrpc2.Call) (resp *jsonrpc2.Response) {
	started := time.Now()
	method := call.Method()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("mcp handler panic", "method", method, "panic", fmt.Sprint(r))
			resp = errorResponse(call.ID(), internalError(r))
		}
		outcome := "ok"
		if resp.Err() != nil {
			outcome = "error"
		}
		s.observer.RPCHandled(metricMethod(method), outcome, time.Since(started))
	}()

	result, rpcErr := s.dispatch(ctx, sess, method, json.RawMessage(call.Params()))
	if rpcErr != nil {
		return errorResponse(call.ID(), rpcErr)
	}
	out, err := jsonrpc2.NewResponse(call.ID(), result, nil)
	if err != nil {
		return errorResponse(call.ID(), internalError(err))
	}
	return out
}

func (s *Server) HandleNotification(_ context.Context, sess *session.Session, n *jsonrpc2.Notification) {
	sessionID := ""
	if sess != nil {
		sessionID = sess.ID()
	}
	switch n.Method() {
	case NotificationInitialized:
		s.logger.Debug("client initialized", "session_id", sessionID)
	case NotificationCancelled:
		s.logger.Debug("client cancelled request", "session_id", sessionID)
	default:
		s.logger.Debug("ignoring notification", "session_id", sessionID, "method", n.Method())
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, method string, params json.RawMessage) (any, *jsonrpc2.Error) {
	switch method {
	case MethodInitialize:
		return s.initialize(sess, params)
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return s.ListTools(), nil
	case MethodToolsCall:
		return s.callTool(ctx, sess, params)
	case MethodLoggingSetLvl:
		return s.setLogLevel(sess, params)
	default:
		return nil, methodNotFound(method)
	}
}

func (s *Server) initialize(sess *session.Session, params json.RawMessage) (any, *jsonrpc2.Error) {
	var p initializeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	version := negotiateProtocolVersion(p.ProtocolVersion)
	if sess != nil {
		sess.SetProtocolVersion(version)
	}
	clientName := ""
	if p.ClientInfo != nil {
		clientName = p.ClientInfo.Name
	}
	s.logger.Debug("initialize", "requested_version", p.ProtocolVersion, "negotiated_version", version, "client", clientName)
	return InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools:   &struct{}{},
			Logging: &struct{}{},
		},
		ServerInfo: s.info,
	}, nil
}

func (s *Server) callTool(ctx context.Context, sess *session.Session, params json.RawMessage) (any, *jsonrpc2.Error) {
	var p callToolParams
	if err := decodeParams(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if p.Name == "" {
		return nil, invalidParams(fmt.Errorf("tool name is required"))
	}
	tool, ok := s.byName[p.Name]
	if !ok {
		s.observer.ToolCalled("unknown", "unknown_tool")
		s.logger.Warn("unknown tool", "tool", p.Name, "error", unknownToolError(p.Name).Error())
		return ErrorResult("Error: Unknown tool: " + p.Name), nil
	}

	result, err := tool.Handler(ctx, p.Arguments)
	if err != nil {
		s.observer.ToolCalled(tool.Name, "error")
		return ErrorResult("Error: " + err.Error()), nil
	}
	if result == nil {
		result = &CallToolResult{Content: []Content{}}
	}
	s.observer.ToolCalled(tool.Name, "ok")

	info, _ := RequestInfoFrom(ctx)
	if err := publishLog(sess, "info", tool.Name, map[string]any{
		"tool":       tool.Name,
		"request_id": info.RequestID,
	}); err != nil {
		s.logger.Warn("log notification failed", "tool", tool.Name, "error", err)
	}
	return result, nil
}

func (s *Server) setLogLevel(sess *session.Session, params json.RawMessage) (any, *jsonrpc2.Error) {
	var p setLevelParams
	if err := decodeParams(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if err := validLogLevel(p.Level); err != nil {
		return nil, invalidParams(err)
	}
	if sess != nil {
		sess.SetLogLevel(p.Level)
	}
	return struct{}{}, nil
}

func decodeParams(params json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.Unmarshal(trimmed, dst)
}

func errorResponse(id jsonrpc2.ID, rpcErr *jsonrpc2.Error) *jsonrpc2.Response {
	resp, _ := jsonrpc2.NewResponse(id, nil, rpcErr)
	return resp
}

func metricMethod(method string) string {
	switch method {
	case MethodInitialize, MethodPing, MethodToolsList, MethodToolsCall, MethodLoggingSetLvl:
		return method
	default:
		return "other"
	}
}
