package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestExecutor(t *testing.T) *toolExecutor {
	t.Helper()
	exec, err := newToolExecutor(t.TempDir())
	if err != nil {
		t.Fatalf("newToolExecutor: %v", err)
	}
	return exec
}

func TestToolExecutorRejectsEscapingPaths(t *testing.T) {
	exec := newTestExecutor(t)
	for _, path := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		_, err := exec.readFile(path)
		if !errors.Is(err, errOutsideWorkspace) {
			t.Fatalf("readFile(%q): expected errOutsideWorkspace, got %v", path, err)
		}
	}
}

func TestWriteThenReadFile(t *testing.T) {
	exec := newTestExecutor(t)
	if _, err := exec.writeFile("notes/todo.txt", "ship it\n"); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	got, err := exec.readFile("notes/todo.txt")
	if err != nil {
		t.Fatalf("readFile: %v", err)
	}
	if got != "ship it\n" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestWriteFileRejectsRootPath(t *testing.T) {
	exec := newTestExecutor(t)
	if _, err := exec.writeFile(".", "x"); err == nil {
		t.Fatalf("expected error writing to the workspace root")
	}
}

func TestEditFileRequiresUniqueMatch(t *testing.T) {
	exec := newTestExecutor(t)
	if _, err := exec.writeFile("main.go", "a\nb\na\n"); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	if _, err := exec.editFile("main.go", "a\n", "c\n"); err == nil {
		t.Fatalf("ambiguous old_str must be rejected")
	}
	if _, err := exec.editFile("main.go", "missing", "c"); err == nil {
		t.Fatalf("absent old_str must be rejected")
	}
	if _, err := exec.editFile("main.go", "b\n", "B\n"); err != nil {
		t.Fatalf("unique edit failed: %v", err)
	}
	got, err := exec.readFile("main.go")
	if err != nil {
		t.Fatalf("readFile: %v", err)
	}
	if got != "a\nB\na\n" {
		t.Fatalf("unexpected content after edit: %q", got)
	}
}

func TestListDirSortsAndMarksDirectories(t *testing.T) {
	exec := newTestExecutor(t)
	if err := os.MkdirAll(filepath.Join(exec.root, "zeta"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := exec.writeFile("alpha.txt", ""); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	got, err := exec.listDir(".")
	if err != nil {
		t.Fatalf("listDir: %v", err)
	}
	if got != "alpha.txt\nzeta/" {
		t.Fatalf("unexpected listing: %q", got)
	}
}

func TestListDirEmpty(t *testing.T) {
	exec := newTestExecutor(t)
	got, err := exec.listDir("")
	if err != nil {
		t.Fatalf("listDir: %v", err)
	}
	if !strings.Contains(got, "empty") {
		t.Fatalf("expected empty marker, got %q", got)
	}
}

func TestReadFileSizeCap(t *testing.T) {
	exec := newTestExecutor(t)
	big := strings.Repeat("x", readFileMaxBytes+1)
	if _, err := exec.writeFile("big.bin", big); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	if _, err := exec.readFile("big.bin"); err == nil {
		t.Fatalf("oversized read must fail")
	}
}

func TestApprovalClassification(t *testing.T) {
	exec := newTestExecutor(t)
	for name, wantApproval := range map[string]bool{
		toolReadFile:  false,
		toolListDir:   false,
		toolWriteFile: true,
		toolEditFile:  true,
	} {
		if !exec.knownTool(name) {
			t.Fatalf("%s should be known", name)
		}
		if got := exec.requiresApproval(name); got != wantApproval {
			t.Fatalf("requiresApproval(%s) = %v, want %v", name, got, wantApproval)
		}
	}
	if exec.knownTool("delete_everything") {
		t.Fatalf("unknown tool accepted")
	}
}

func TestExecuteRejectsUnknownTool(t *testing.T) {
	exec := newTestExecutor(t)
	if _, err := exec.execute("frobnicate", nil); err == nil {
		t.Fatalf("expected unknown-tool error")
	}
}
