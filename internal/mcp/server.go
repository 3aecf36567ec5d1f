// ABOUTME: MCP-compatible JSON-RPC endpoint scoped to one public collection.
// ABOUTME: Request/response and one-shot SSE transports; tools/call goes through the executor router.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/toolshed/internal/executor"
	"github.com/2389/toolshed/internal/metrics"
	"github.com/2389/toolshed/internal/schema"
	"github.com/2389/toolshed/internal/store"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// latestProtocolVersion is advertised when the client asks for one we don't know.
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultLookupTimeout bounds every store lookup made while serving a call.
const DefaultLookupTimeout = 10 * time.Second

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603

	// JSONRPCNotFound covers unknown collections, tools outside the
	// collection and unknown transports.
	JSONRPCNotFound = -32001
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// emptyObjectSchema is advertised for tools stored without a schema.
var emptyObjectSchema = json.RawMessage(`{"type":"object"}`)

// Router executes a tool on the executor a collection is configured with.
type Router interface {
	Route(ctx context.Context, cfg executor.Config, req executor.ExecuteRequest) (*executor.ExecuteResult, error)
}

// Config holds configuration for the MCP server.
type Config struct {
	Store         store.Store
	Router        Router
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	LookupTimeout time.Duration
	ServerName    string
	ServerVersion string
}

// Server serves MCP over HTTP. Every request is independent; there is no
// session state.
type Server struct {
	store         store.Store
	router        Router
	logger        *slog.Logger
	metrics       *metrics.Metrics
	lookupTimeout time.Duration
	serverName    string
	serverVersion string
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:         cfg.Store,
		router:        cfg.Router,
		logger:        logger.With("component", "mcp"),
		metrics:       cfg.Metrics,
		lookupTimeout: cfg.LookupTimeout,
		serverName:    cfg.ServerName,
		serverVersion: cfg.ServerVersion,
	}
	if s.lookupTimeout <= 0 {
		s.lookupTimeout = DefaultLookupTimeout
	}
	if s.serverName == "" {
		s.serverName = "toolshed"
	}
	if s.serverVersion == "" {
		s.serverVersion = "dev"
	}
	return s, nil
}

// RegisterRoutes registers /mcp/{slug} (request/response) and
// /mcp/{slug}/sse (one event per call) on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp/", s.handleMCP)
}

type transport int

const (
	transportJSON transport = iota
	transportSSE
)

// parsePath splits /mcp/{slug}[/{transport}].
func parsePath(path string) (slug string, t transport, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, "/mcp/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		return parts[0], transportJSON, true
	case len(parts) == 2 && parts[1] == "sse":
		return parts[0], transportSSE, true
	case len(parts) == 2 && parts[1] == "http":
		return parts[0], transportJSON, true
	}
	return "", transportJSON, false
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	slug, t, ok := parsePath(r.URL.Path)
	if !ok {
		s.write(w, transportJSON, errorResponse(nil, JSONRPCNotFound, "invalid transport", nil))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.write(w, t, errorResponse(nil, JSONRPCParseError, "failed to read request body", nil))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.write(w, t, errorResponse(nil, JSONRPCInvalidRequest, "request body too large", nil))
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.write(w, t, errorResponse(nil, JSONRPCParseError, "invalid JSON", nil))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.write(w, t, errorResponse(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC request", nil))
		return
	}

	// Notifications get no response body.
	if len(req.ID) == 0 || string(req.ID) == "null" {
		s.logger.Debug("accepted MCP notification", "method", req.Method, "collection", slug)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := s.Handle(r.Context(), slug, req)
	if r.Context().Err() != nil {
		// Client went away; nobody is left to read the response.
		return
	}
	s.write(w, t, resp)
}

// Handle dispatches one JSON-RPC request against the collection slug.
func (s *Server) Handle(ctx context.Context, slug string, req JSONRPCRequest) *JSONRPCResponse {
	var resp *JSONRPCResponse
	switch req.Method {
	case "ping":
		resp = resultResponse(req.ID, map[string]any{})
	case "initialize":
		resp = s.handleInitialize(ctx, slug, req)
	case "tools/list":
		resp = s.handleToolsList(ctx, slug, req)
	case "tools/call":
		resp = s.handleToolsCall(ctx, slug, req)
	default:
		resp = errorResponse(req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}

	var err error
	if resp.Error != nil {
		err = resp.Error
	}
	s.metrics.ObserveMCPRequest(metricMethod(req.Method), err)
	return resp
}

func metricMethod(method string) string {
	switch method {
	case "ping", "initialize", "tools/list", "tools/call":
		return method
	}
	return "unknown"
}

func (s *Server) handleInitialize(ctx context.Context, slug string, req JSONRPCRequest) *JSONRPCResponse {
	coll, rpcErr := s.collection(ctx, slug)
	if rpcErr != nil {
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}

	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, JSONRPCInvalidParams, "invalid params", nil)
		}
	}
	version := latestProtocolVersion
	if supportedProtocolVersions[params.ProtocolVersion] {
		version = params.ProtocolVersion
	}

	result := map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.serverName,
			"version": s.serverVersion,
		},
	}
	if coll.Description != "" {
		result["instructions"] = coll.Description
	}
	return resultResponse(req.ID, result)
}

func (s *Server) handleToolsList(ctx context.Context, slug string, req JSONRPCRequest) *JSONRPCResponse {
	_, tools, rpcErr := s.collectionTools(ctx, slug)
	if rpcErr != nil {
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}

	result := MCPListToolsResult{Tools: make([]MCPToolInfo, len(tools))}
	for i, tool := range tools {
		inputSchema := tool.InputSchema
		if len(inputSchema) == 0 {
			inputSchema = emptyObjectSchema
		}
		result.Tools[i] = MCPToolInfo{
			Name:        tool.QualifiedName(),
			Description: tool.Description,
			InputSchema: inputSchema,
		}
	}

	s.logger.Debug("tools/list", "collection", slug, "count", len(tools))
	return resultResponse(req.ID, result)
}

func (s *Server) handleToolsCall(ctx context.Context, slug string, req JSONRPCRequest) *JSONRPCResponse {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, JSONRPCInvalidParams, "invalid params", nil)
		}
	}
	if params.Name == "" {
		return errorResponse(req.ID, JSONRPCInvalidParams, "tool name is required", nil)
	}
	args := map[string]any{}
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return errorResponse(req.ID, JSONRPCInvalidParams, "arguments must be an object", nil)
		}
	}

	coll, tools, rpcErr := s.collectionTools(ctx, slug)
	if rpcErr != nil {
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	var tool *store.Tool
	for _, t := range tools {
		if t.QualifiedName() == params.Name {
			tool = t
			break
		}
	}
	if tool == nil {
		return errorResponse(req.ID, JSONRPCNotFound, "tool not found in collection", map[string]any{"tool": params.Name})
	}

	if err := schema.Validate(tool.InputSchema, args); err != nil {
		return errorResponse(req.ID, JSONRPCInvalidParams, "invalid arguments", err.Error())
	}

	cfg, err := executor.ParseConfig(coll.Executor)
	if err != nil {
		s.logger.Error("collection has an invalid executor config", "collection", slug, "error", err)
		return errorResponse(req.ID, JSONRPCInternalError, "collection executor is misconfigured", nil)
	}

	version, rpcErr := s.packageVersion(ctx, tool.PackageName)
	if rpcErr != nil {
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}

	requestID := uuid.New().String()
	s.logger.Debug("tools/call",
		"collection", slug,
		"tool_name", params.Name,
		"request_id", requestID,
		"executor", executor.TypeName(cfg),
	)

	// The request context cancels the executor call if the client disconnects.
	res, err := s.router.Route(ctx, cfg, executor.ExecuteRequest{
		PackageName: tool.PackageName,
		ExportName:  tool.ExportName,
		Version:     version,
		Args:        args,
	})
	if err != nil {
		return s.toolError(req.ID, params.Name, requestID, err)
	}

	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"request_id", requestID,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return resultResponse(req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: outputText(res.Output)}},
	})
}

// toolError maps routing failures. A tool that ran and failed is a result
// with isError; executor faults are JSON-RPC errors carrying the route code.
func (s *Server) toolError(id json.RawMessage, toolName, requestID string, err error) *JSONRPCResponse {
	s.logger.Warn("tool execution failed",
		"tool_name", toolName,
		"request_id", requestID,
		"error", err,
	)

	if errors.Is(err, executor.ErrExecutionFailure) {
		return resultResponse(id, MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: executorMessage(err)}},
			IsError: true,
		})
	}

	var routeErr *executor.RouteError
	if errors.As(err, &routeErr) {
		return errorResponse(id, JSONRPCInternalError, string(routeErr.Code), map[string]any{
			"executor": routeErr.Executor,
			"detail":   executorMessage(routeErr.Err),
		})
	}

	message := "tool execution failed"
	switch {
	case errors.Is(err, executor.ErrInvalidConfig), errors.Is(err, executor.ErrInvalidURL):
		message = "collection executor is misconfigured"
	case errors.Is(err, executor.ErrCanceled), errors.Is(err, context.Canceled):
		message = "request cancelled"
	case errors.Is(err, executor.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		message = "tool execution timed out"
	}
	return errorResponse(id, JSONRPCInternalError, message, nil)
}

func executorMessage(err error) string {
	var e *executor.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// outputText renders tool output as text content. JSON strings are unquoted.
func outputText(output json.RawMessage) string {
	var s string
	if err := json.Unmarshal(output, &s); err == nil {
		return s
	}
	return string(output)
}

// collection loads a public collection within the lookup timeout.
func (s *Server) collection(ctx context.Context, slug string) (*store.Collection, *JSONRPCError) {
	if slug == "" {
		return nil, &JSONRPCError{Code: JSONRPCNotFound, Message: "collection not found"}
	}
	coll, err := withDeadline(ctx, s.lookupTimeout, func(ctx context.Context) (*store.Collection, error) {
		return s.store.GetCollection(ctx, slug)
	})
	if err != nil {
		return nil, s.lookupError("collection", slug, err)
	}
	if !coll.Public {
		return nil, &JSONRPCError{Code: JSONRPCNotFound, Message: "collection not found"}
	}
	return coll, nil
}

func (s *Server) collectionTools(ctx context.Context, slug string) (*store.Collection, []*store.Tool, *JSONRPCError) {
	coll, rpcErr := s.collection(ctx, slug)
	if rpcErr != nil {
		return nil, nil, rpcErr
	}
	tools, err := withDeadline(ctx, s.lookupTimeout, func(ctx context.Context) ([]*store.Tool, error) {
		return s.store.ListCollectionTools(ctx, slug)
	})
	if err != nil {
		return nil, nil, s.lookupError("collection tools", slug, err)
	}
	return coll, tools, nil
}

func (s *Server) packageVersion(ctx context.Context, name string) (string, *JSONRPCError) {
	pkg, err := withDeadline(ctx, s.lookupTimeout, func(ctx context.Context) (*store.Package, error) {
		return s.store.GetPackage(ctx, name)
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", s.lookupError("package", name, err)
	}
	return pkg.Version, nil
}

// withDeadline runs fn in its own goroutine and gives up when the timeout
// passes, even if fn ignores its context. An abandoned fn finishes in the
// background and its result is discarded.
func withDeadline[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (s *Server) lookupError(what, key string, err error) *JSONRPCError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &JSONRPCError{Code: JSONRPCNotFound, Message: what + " not found"}
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Error("lookup timed out", "what", what, "key", key, "timeout", s.lookupTimeout)
		return &JSONRPCError{Code: JSONRPCInternalError, Message: fmt.Sprintf("%s lookup timed out after %s", what, s.lookupTimeout)}
	default:
		s.logger.Error("lookup failed", "what", what, "key", key, "error", err)
		return &JSONRPCError{Code: JSONRPCInternalError, Message: what + " lookup failed"}
	}
}

func resultResponse(id json.RawMessage, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string, data any) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// write sends resp as a JSON body, or as a single SSE message event after
// which the stream is closed.
func (s *Server) write(w http.ResponseWriter, t transport, resp *JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if t == transportSSE {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "close")
		if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
			s.logger.Warn("failed to write SSE event", "error", err)
			return
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Warn("failed to write JSON-RPC response", "error", err)
	}
}
