package mcp

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeProjectsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projects.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write projects file: %v", err)
	}
	return path
}

const twoProjects = `projects:
  - name: consilio
    working_dir: /srv/consilio
    port_range: 3100-3199
  - name: meta
    working_dir: /srv
    port_range: 3000-3099
`

func TestRouterBuildsEndpoints(t *testing.T) {
	path := writeProjectsFile(t, twoProjects)
	router, err := NewRouter(NewRegistry(testLogger()), path, testLogger())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	if got := router.Projects(); !reflect.DeepEqual(got, []string{"consilio", "meta"}) {
		t.Errorf("Projects() = %v", got)
	}
	if router.Endpoint("consilio") == nil {
		t.Error("expected an endpoint for consilio")
	}
	if router.Endpoint("unknown") != nil {
		t.Error("expected nil endpoint for unknown project")
	}
}

func TestRouterReloadSwapsEndpoints(t *testing.T) {
	path := writeProjectsFile(t, twoProjects)
	router, err := NewRouter(NewRegistry(testLogger()), path, testLogger())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	next := `projects:
  - name: consilio
    working_dir: /srv/consilio
    port_range: 3100-3199
  - name: atlas
    working_dir: /srv/atlas
    port_range: 3200-3299
`
	if err := os.WriteFile(path, []byte(next), 0o644); err != nil {
		t.Fatalf("rewrite projects file: %v", err)
	}
	if err := router.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if router.Endpoint("atlas") == nil {
		t.Error("expected atlas after reload")
	}
	if router.Endpoint("meta") != nil {
		t.Error("expected meta to be gone after reload")
	}
}

func TestRouterReloadKeepsOldMapOnBadFile(t *testing.T) {
	path := writeProjectsFile(t, twoProjects)
	router, err := NewRouter(NewRegistry(testLogger()), path, testLogger())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	if err := os.WriteFile(path, []byte("projects: [unclosed"), 0o644); err != nil {
		t.Fatalf("rewrite projects file: %v", err)
	}
	if err := router.Reload(); err == nil {
		t.Fatal("expected reload to fail on a corrupt file")
	}
	if router.Endpoint("consilio") == nil {
		t.Error("old endpoint map should survive a failed reload")
	}
}
