package system

import "testing"

func TestCollectReturnsSnapshot(t *testing.T) {
	stats, err := Collect()
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if stats.Hostname == "" {
		t.Error("expected a hostname")
	}
	if stats.CPU.Cores < 1 {
		t.Errorf("expected at least one core, got %d", stats.CPU.Cores)
	}
	if stats.Disk.Path != "/" {
		t.Errorf("expected disk path /, got %q", stats.Disk.Path)
	}
	if stats.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}
