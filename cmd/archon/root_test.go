package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	path := filepath.Join(base, "archon.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
`, filepath.Join(base, "data"), filepath.Join(base, "logs"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRequestStatsOnEmptyStore(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "--config", cfgPath, "request", "stats")
	if err != nil {
		t.Fatalf("request stats: %v\n%s", err, out)
	}
	for _, state := range []string{"to_schedule", "pending", "running", "error", "aborted"} {
		if !strings.Contains(out, state) {
			t.Errorf("output missing state %q:\n%s", state, out)
		}
	}
}

func TestUpdateBulkRejectsEmptyMutation(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := runCommand(t, "--config", cfgPath, "update-bulk", "--mode", "exclude")
	if err == nil {
		t.Fatal("expected rejection of a mutationless bulk update")
	}
}

func TestDeleteBulkRequiresConfirmation(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := runCommand(t, "--config", cfgPath, "delete-bulk", "--mode", "logical")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected confirmation error, got %v", err)
	}
}
