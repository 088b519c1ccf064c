package main

import (
	"path/filepath"
	"testing"

	"github.com/overseer/internal/config"
	"github.com/overseer/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestSeedProjectsAcceptsStandardRangeSizes(t *testing.T) {
	database := testDB(t)

	err := seedProjects(database, []config.ProjectConfig{
		{Name: "consilio", PortRange: "3100-3199", WorkingDir: "/srv/consilio"},
		{Name: "shared", PortRange: "4000-4999", WorkingDir: "/srv/shared"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := database.GetProject("consilio"); err != nil {
		t.Errorf("consilio not seeded: %v", err)
	}
	if _, err := database.GetProject("shared"); err != nil {
		t.Errorf("shared not seeded: %v", err)
	}
}

func TestSeedProjectsRejectsOddRangeSize(t *testing.T) {
	database := testDB(t)

	err := seedProjects(database, []config.ProjectConfig{
		{Name: "consilio", PortRange: "3100-3150", WorkingDir: "/srv/consilio"},
	})
	if err == nil {
		t.Fatal("expected a range-size error")
	}
	if _, err := database.GetProject("consilio"); err == nil {
		t.Error("rejected project must not be seeded")
	}
}
