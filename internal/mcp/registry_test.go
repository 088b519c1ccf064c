package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its arguments",
		InputSchema: objectSchema(map[string]interface{}{}),
		Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
			return map[string]interface{}{"project": tc.Project}, nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	registry := NewRegistry(testLogger())
	if err := registry.Register(echoTool("echo")); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := registry.Register(echoTool("echo"))
	if !domain.IsConflict(err) {
		t.Errorf("expected conflict on duplicate name, got %v", err)
	}
}

func TestRegisterRequiresNameAndExecutor(t *testing.T) {
	registry := NewRegistry(testLogger())
	if err := registry.Register(&Tool{Name: "no-exec"}); !domain.IsValidation(err) {
		t.Errorf("expected validation error for missing executor, got %v", err)
	}
}

func TestListForProjectFiltersScope(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.Register(echoTool("zz_global"))

	scoped := echoTool("aa_scoped")
	scoped.Scope = constants.ToolScopeProject
	scoped.Projects = []string{"consilio"}
	registry.Register(scoped)

	tools := registry.ListForProject("consilio")
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools for consilio, got %d", len(tools))
	}
	if tools[0].Name != "aa_scoped" || tools[1].Name != "zz_global" {
		t.Errorf("expected sorted names, got %s, %s", tools[0].Name, tools[1].Name)
	}

	tools = registry.ListForProject("other")
	if len(tools) != 1 || tools[0].Name != "zz_global" {
		t.Errorf("expected only the global tool for other, got %d tools", len(tools))
	}
}

func TestExecuteUnknownToolIsNotFound(t *testing.T) {
	registry := NewRegistry(testLogger())
	_, err := registry.Execute(context.Background(), "missing", ToolContext{Project: "p"}, nil)
	if !domain.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestExecuteEnforcesScope(t *testing.T) {
	registry := NewRegistry(testLogger())
	scoped := echoTool("admin_only")
	scoped.Scope = constants.ToolScopeProject
	scoped.Projects = []string{constants.MetaProject}
	registry.Register(scoped)

	_, err := registry.Execute(context.Background(), "admin_only", ToolContext{Project: "consilio"}, nil)
	if !domain.IsAccessDenied(err) {
		t.Errorf("expected access denied, got %v", err)
	}

	if _, err := registry.Execute(context.Background(), "admin_only", ToolContext{Project: constants.MetaProject}, nil); err != nil {
		t.Errorf("meta project should pass, got %v", err)
	}
}

func TestCountersTrackCalls(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.Register(echoTool("echo"))

	tc := ToolContext{Project: "consilio"}
	registry.Execute(context.Background(), "echo", tc, nil)
	registry.Execute(context.Background(), "echo", tc, nil)
	registry.Execute(context.Background(), "echo", ToolContext{Project: "meta"}, nil)

	toolCalls, projectCalls := registry.Counters()
	if toolCalls["echo"] != 3 {
		t.Errorf("expected 3 echo calls, got %d", toolCalls["echo"])
	}
	if projectCalls["consilio"] != 2 {
		t.Errorf("expected 2 consilio calls, got %d", projectCalls["consilio"])
	}
}
