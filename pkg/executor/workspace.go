// Package executor runs generated test scripts as external processes:
// workspace layout, best-effort dependency install, line-streamed output,
// wall-clock timeout, report parsing and artifact harvest.
package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/testrig-ai/testrig/pkg/models"
)

// Workspace subdirectories. API scripts land in tests/, UI scripts in e2e/,
// and every execution writes under reports/<session_id>/.
const (
	apiScriptsDir = "tests"
	uiScriptsDir  = "e2e"
	reportsDir    = "reports"
)

// ResolveWorkspace picks the workspace root. Precedence: the configured
// directory (PLAYWRIGHT_WORKSPACE already folded in by config), an existing
// ./examples directory, then a stable directory under the OS temp root.
func ResolveWorkspace(configured string) (string, error) {
	if configured != "" {
		if err := os.MkdirAll(configured, 0o755); err != nil {
			return "", fmt.Errorf("create workspace %s: %w", configured, err)
		}
		return configured, nil
	}

	if info, err := os.Stat("examples"); err == nil && info.IsDir() {
		abs, err := filepath.Abs("examples")
		if err != nil {
			return "", fmt.Errorf("resolve examples dir: %w", err)
		}
		return abs, nil
	}

	fallback := filepath.Join(os.TempDir(), "testrig-workspace")
	if err := os.MkdirAll(fallback, 0o755); err != nil {
		return "", fmt.Errorf("create fallback workspace: %w", err)
	}
	return fallback, nil
}

// ReportDir returns (and creates) the per-session report directory.
func ReportDir(workspace, sessionID string) (string, error) {
	dir := filepath.Join(workspace, reportsDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	return dir, nil
}

// MaterializeScripts writes each script into the workspace and returns the
// written paths, relative to the workspace. A script's declared relative
// path wins when it is confined to the workspace; otherwise the file lands
// under its kind's directory by base name. Declared paths must not escape
// the workspace.
func MaterializeScripts(workspace string, kind models.ExecutionKind, scripts []models.TestScript) ([]string, error) {
	sub := apiScriptsDir
	if kind == models.ExecutionKindUI {
		sub = uiScriptsDir
	}

	paths := make([]string, 0, len(scripts))
	for _, script := range scripts {
		rel, err := scriptRelPath(sub, script)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(workspace, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create scripts dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(script.Content), 0o644); err != nil {
			return nil, fmt.Errorf("write script %s: %w", rel, err)
		}
		paths = append(paths, rel)
	}
	return paths, nil
}

// scriptRelPath resolves where a script lands inside the workspace.
func scriptRelPath(sub string, script models.TestScript) (string, error) {
	if declared := strings.TrimSpace(script.Path); declared != "" {
		rel := filepath.Clean(filepath.FromSlash(declared))
		if filepath.IsAbs(rel) || rel == "." || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("script %s declares path %q outside the workspace", script.ScriptID, declared)
		}
		return rel, nil
	}
	name := filepath.Base(strings.TrimSpace(script.Name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("script %s has no usable file name", script.ScriptID)
	}
	return filepath.Join(sub, name), nil
}

// MaterializeRequirements merges the scripts' declared runtime dependencies
// into the workspace requirements.txt, keeping any lines already there.
// Returns whether a requirements file exists afterwards.
func MaterializeRequirements(workspace string, scripts []models.TestScript) (bool, error) {
	declared := make(map[string]bool)
	var ordered []string
	add := func(dep string) {
		dep = strings.TrimSpace(dep)
		if dep == "" || declared[dep] {
			return
		}
		declared[dep] = true
		ordered = append(ordered, dep)
	}

	reqFile := filepath.Join(workspace, "requirements.txt")
	existing, err := os.ReadFile(reqFile)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read requirements: %w", err)
	}
	for _, line := range strings.Split(string(existing), "\n") {
		add(line)
	}
	before := len(ordered)
	for _, script := range scripts {
		for _, dep := range script.Dependencies {
			add(dep)
		}
	}

	if len(ordered) == 0 {
		return false, nil
	}
	if len(ordered) == before && len(existing) > 0 {
		return true, nil
	}
	content := strings.Join(ordered, "\n") + "\n"
	if err := os.WriteFile(reqFile, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write requirements: %w", err)
	}
	return true, nil
}
