package docker

import (
	"context"
	"testing"
	"time"
)

func TestExecuteCommandKilledAtDeadline(t *testing.T) {
	executor := NewRealCommandExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := executor.ExecuteCommand(ctx, "sleep", "5")
	if err == nil {
		t.Fatal("expected an error once the deadline expires")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("command outlived its deadline by %v", elapsed)
	}
}
