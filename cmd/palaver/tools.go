package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	toolReadFile  = "read_file"
	toolWriteFile = "write_file"
	toolEditFile  = "edit_file"
	toolListDir   = "list_dir"

	readFileMaxBytes = 256 * 1024
)

var errOutsideWorkspace = errors.New("path escapes the workspace root")

// toolExecutor runs workspace tools for the engine. All paths resolve
// inside the workspace root; mutating tools require user approval before
// the engine calls execute.
type toolExecutor struct {
	root string
}

func newToolExecutor(root string) (*toolExecutor, error) {
	resolved, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", resolved)
	}
	return &toolExecutor{root: resolved}, nil
}

func (t *toolExecutor) knownTool(name string) bool {
	switch name {
	case toolReadFile, toolWriteFile, toolEditFile, toolListDir:
		return true
	default:
		return false
	}
}

// requiresApproval reports whether a tool mutates the workspace.
func (t *toolExecutor) requiresApproval(name string) bool {
	switch name {
	case toolWriteFile, toolEditFile:
		return true
	default:
		return false
	}
}

func (t *toolExecutor) execute(name string, args map[string]string) (string, error) {
	switch name {
	case toolReadFile:
		return t.readFile(args["path"])
	case toolWriteFile:
		return t.writeFile(args["path"], args["content"])
	case toolEditFile:
		return t.editFile(args["path"], args["old_str"], args["new_str"])
	case toolListDir:
		return t.listDir(args["path"])
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// resolve joins path onto the root and rejects traversal outside it.
func (t *toolExecutor) resolve(path string) (string, error) {
	cleaned := filepath.Clean(strings.TrimSpace(path))
	if cleaned == "" || cleaned == "." {
		return t.root, nil
	}
	if filepath.IsAbs(cleaned) {
		return "", errOutsideWorkspace
	}
	joined := filepath.Join(t.root, cleaned)
	if joined != t.root && !strings.HasPrefix(joined, t.root+string(filepath.Separator)) {
		return "", errOutsideWorkspace
	}
	return joined, nil
}

func (t *toolExecutor) readFile(path string) (string, error) {
	resolved, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if info.Size() > readFileMaxBytes {
		return "", fmt.Errorf("file %s exceeds %d bytes", path, readFileMaxBytes)
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (t *toolExecutor) writeFile(path, content string) (string, error) {
	resolved, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	if resolved == t.root {
		return "", errors.New("write_file requires a file path")
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (t *toolExecutor) editFile(path, oldStr, newStr string) (string, error) {
	if oldStr == "" {
		return "", errors.New("edit_file requires a non-empty old_str")
	}
	resolved, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	content := string(raw)
	count := strings.Count(content, oldStr)
	if count == 0 {
		return "", fmt.Errorf("old_str not found in %s", path)
	}
	if count > 1 {
		return "", fmt.Errorf("old_str matches %d times in %s; provide more context", count, path)
	}
	edited := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(resolved, []byte(edited), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("edited %s", path), nil
}

func (t *toolExecutor) listDir(path string) (string, error) {
	resolved, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}
