package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/overseer/internal/constants"
)

// ProjectContext is the fixed identity of one endpoint
type ProjectContext struct {
	Name       string
	WorkingDir string
	// AllowedTools restricts the visible tool set; empty means every tool
	// the registry permits for this project.
	AllowedTools []string
}

// RequestLogEntry is one remembered request
type RequestLogEntry struct {
	At       time.Time `json:"at"`
	Method   string    `json:"method"`
	Tool     string    `json:"tool,omitempty"`
	Duration string    `json:"duration"`
	OK       bool      `json:"ok"`
}

// Endpoint serves JSON-RPC 2.0 for exactly one project. It holds no state
// for any other project.
type Endpoint struct {
	project  ProjectContext
	registry *Registry
	logger   *slog.Logger

	requestCount atomic.Int64
	errorCount   atomic.Int64

	mu         sync.Mutex
	requestLog []RequestLogEntry
}

// NewEndpoint creates an endpoint bound to one project
func NewEndpoint(project ProjectContext, registry *Registry, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		project:  project,
		registry: registry,
		logger:   logger.With("project", project.Name),
	}
}

// Project returns the endpoint's project name
func (e *Endpoint) Project() string {
	return e.project.Name
}

// Stats returns the endpoint's local counters
func (e *Endpoint) Stats() (requests, errs int64) {
	return e.requestCount.Load(), e.errorCount.Load()
}

// RecentRequests returns a copy of the bounded request log, newest last
func (e *Endpoint) RecentRequests() []RequestLogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RequestLogEntry, len(e.requestLog))
	copy(out, e.requestLog)
	return out
}

// Handle processes one JSON-RPC request body. A nil return means the request
// was a notification and gets no response.
func (e *Endpoint) Handle(ctx context.Context, body []byte) *Response {
	start := time.Now()

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		e.errorCount.Add(1)
		return newErrorResponse(nil, CodeParseError, "parse error: invalid JSON", nil)
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		e.errorCount.Add(1)
		return newErrorResponse(req.ID, CodeInvalidRequest, "invalid request: jsonrpc must be \"2.0\"", nil)
	}

	e.requestCount.Add(1)

	var resp *Response
	tool := ""
	switch req.Method {
	case "initialize":
		resp = newResponse(req.ID, e.initializeResult())
	case "tools/list":
		resp = newResponse(req.ID, map[string]interface{}{"tools": e.visibleTools()})
	case "tools/call":
		resp, tool = e.handleToolCall(ctx, &req)
	case "ping":
		resp = newResponse(req.ID, map[string]interface{}{"project": e.project.Name})
	default:
		if req.IsNotification() {
			// Notifications for unknown methods are dropped silently
			e.record(req.Method, tool, start, true)
			return nil
		}
		resp = newErrorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil)
	}

	ok := resp == nil || resp.Error == nil
	if !ok {
		e.errorCount.Add(1)
	}
	e.record(req.Method, tool, start, ok)

	if req.IsNotification() {
		return nil
	}
	return resp
}

func (e *Endpoint) initializeResult() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": constants.RPCProtocolVersion,
		"serverInfo": map[string]interface{}{
			"name":    "overseer",
			"version": constants.ServerVersion,
		},
		"projectInfo": map[string]interface{}{
			"name":       e.project.Name,
			"workingDir": e.project.WorkingDir,
		},
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	}
}

func (e *Endpoint) visibleTools() []*Tool {
	tools := e.registry.ListForProject(e.project.Name)
	if len(e.project.AllowedTools) == 0 {
		return tools
	}

	allowed := make(map[string]bool, len(e.project.AllowedTools))
	for _, name := range e.project.AllowedTools {
		allowed[name] = true
	}
	var out []*Tool
	for _, tool := range tools {
		if allowed[tool.Name] {
			out = append(out, tool)
		}
	}
	return out
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (e *Endpoint) handleToolCall(ctx context.Context, req *Request) (*Response, string) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return newErrorResponse(req.ID, CodeInvalidParams,
			"invalid params: tools/call needs a tool name", nil), ""
	}

	if !e.toolAllowed(params.Name) {
		return newErrorResponse(req.ID, CodeAccessDenied,
			fmt.Sprintf("tool %s is not allowed for project %s", params.Name, e.project.Name),
			&ErrorData{Kind: "ACCESS_DENIED"}), params.Name
	}

	tc := ToolContext{Project: e.project.Name, WorkingDir: e.project.WorkingDir}
	result, err := e.registry.Execute(ctx, params.Name, tc, params.Arguments)
	if err != nil {
		return errorResponseFor(req.ID, err), params.Name
	}
	return newResponse(req.ID, result), params.Name
}

func (e *Endpoint) toolAllowed(name string) bool {
	if len(e.project.AllowedTools) == 0 {
		return true
	}
	for _, allowed := range e.project.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}

func (e *Endpoint) record(method, tool string, start time.Time, ok bool) {
	entry := RequestLogEntry{
		At:       start,
		Method:   method,
		Tool:     tool,
		Duration: time.Since(start).String(),
		OK:       ok,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestLog = append(e.requestLog, entry)
	if len(e.requestLog) > constants.RequestLogSize {
		e.requestLog = e.requestLog[len(e.requestLog)-constants.RequestLogSize:]
	}
}
