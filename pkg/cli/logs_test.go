package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stagehand/stagehand/pkg/tasks"
)

func writeTaskLog(t *testing.T, dir, task string, lineCount int) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create log dir: %v", err)
	}

	var sb strings.Builder
	for i := 1; i <= lineCount; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}

	path := filepath.Join(dir, task+".log")
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		t.Fatalf("failed to write log file: %v", err)
	}
	return path
}

func TestRunLogs_NoLogDirectory(t *testing.T) {
	useProject(t)

	// A project that never ran anything has nothing to show, which is fine
	if err := runLogs("", false, 50); err != nil {
		t.Errorf("missing log directory should not be an error: %v", err)
	}
}

func TestRunLogs_UnknownTask(t *testing.T) {
	tempDir := useProject(t)
	writeTaskLog(t, tasks.LogDir(tempDir), "env.create", 3)

	if err := runLogs("lib.vendor", false, 50); err == nil {
		t.Error("expected error for task without logs")
	}
}

func TestRunLogs_SpecificTask(t *testing.T) {
	tempDir := useProject(t)
	writeTaskLog(t, tasks.LogDir(tempDir), "env.create", 3)

	if err := runLogs("env.create", false, 50); err != nil {
		t.Errorf("runLogs failed: %v", err)
	}
}

func TestRunLogs_EmptyLogDirectory(t *testing.T) {
	tempDir := useProject(t)

	if err := os.MkdirAll(tasks.LogDir(tempDir), 0755); err != nil {
		t.Fatalf("failed to create log dir: %v", err)
	}

	if err := runLogs("", false, 50); err != nil {
		t.Errorf("empty log directory should not be an error: %v", err)
	}
}

func TestReadLastNLines(t *testing.T) {
	tempDir := useProject(t)
	path := writeTaskLog(t, tempDir, "setup", 10)

	content, err := readLastNLines(path, 3)
	if err != nil {
		t.Fatalf("readLastNLines failed: %v", err)
	}

	expected := "line 8\nline 9\nline 10\n"
	if content != expected {
		t.Errorf("expected %q, got %q", expected, content)
	}
}

func TestReadLastNLines_FewerThanRequested(t *testing.T) {
	tempDir := useProject(t)
	path := writeTaskLog(t, tempDir, "setup", 2)

	content, err := readLastNLines(path, 50)
	if err != nil {
		t.Fatalf("readLastNLines failed: %v", err)
	}

	if content != "line 1\nline 2\n" {
		t.Errorf("expected whole file, got %q", content)
	}
}

func TestReadLastNLines_MissingFile(t *testing.T) {
	tempDir := useProject(t)

	if _, err := readLastNLines(filepath.Join(tempDir, "nope.log"), 5); err == nil {
		t.Error("expected error for missing file")
	}
}
