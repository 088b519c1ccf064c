package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/domain"
)

// ToolContext identifies the caller of a tool execution
type ToolContext struct {
	Project    string
	WorkingDir string
}

// Executor runs one tool call. params is the raw arguments object.
type Executor func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error)

// Tool is a named callable unit with a JSON schema for its input
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
	// Scope is global or project; project-scoped tools list their projects
	Scope    string   `json:"-"`
	Projects []string `json:"-"`
	Execute  Executor `json:"-"`
}

func (t *Tool) permittedFor(project string) bool {
	if t.Scope == constants.ToolScopeGlobal {
		return true
	}
	for _, p := range t.Projects {
		if p == project {
			return true
		}
	}
	return false
}

// Registry holds every registered tool plus execution counters
type Registry struct {
	logger *slog.Logger

	mu           sync.RWMutex
	tools        map[string]*Tool
	toolCalls    map[string]int64
	projectCalls map[string]int64
}

// NewRegistry creates an empty tool registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:       logger,
		tools:        make(map[string]*Tool),
		toolCalls:    make(map[string]int64),
		projectCalls: make(map[string]int64),
	}
}

// Register adds a tool. Tool names are unique.
func (r *Registry) Register(tool *Tool) error {
	if tool.Name == "" || tool.Execute == nil {
		return domain.WrapValidation("tool needs a name and an executor", nil)
	}
	if tool.Scope == "" {
		tool.Scope = constants.ToolScopeGlobal
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return domain.WrapConflict(fmt.Sprintf("tool already registered: %s", tool.Name), nil)
	}
	r.tools[tool.Name] = tool
	return nil
}

// ListForProject returns the tools visible to a project, sorted by name
func (r *Registry) ListForProject(project string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Tool
	for _, tool := range r.tools {
		if tool.permittedFor(project) {
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute dispatches one tool call, enforcing scope and recording counters
func (r *Registry) Execute(ctx context.Context, name string, tc ToolContext, params json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	tool, exists := r.tools[name]
	r.mu.RUnlock()

	if !exists {
		return nil, domain.WrapNotFound(fmt.Sprintf("tool %s", name), nil)
	}
	if !tool.permittedFor(tc.Project) {
		return nil, domain.NewDomainError(domain.ErrAccessDenied.Code,
			fmt.Sprintf("tool %s is not permitted for project %s", name, tc.Project), nil)
	}

	start := time.Now()
	result, err := tool.Execute(ctx, tc, params)
	duration := time.Since(start)

	r.mu.Lock()
	r.toolCalls[name]++
	r.projectCalls[tc.Project]++
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("tool call failed",
			"tool", name, "project", tc.Project, "duration", duration, "error", err)
		return nil, err
	}
	r.logger.Info("tool call",
		"tool", name, "project", tc.Project, "duration", duration)
	return result, nil
}

// Counters returns copies of the per-tool and per-project call counters
func (r *Registry) Counters() (map[string]int64, map[string]int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make(map[string]int64, len(r.toolCalls))
	for k, v := range r.toolCalls {
		tools[k] = v
	}
	projects := make(map[string]int64, len(r.projectCalls))
	for k, v := range r.projectCalls {
		projects[k] = v
	}
	return tools, projects
}
