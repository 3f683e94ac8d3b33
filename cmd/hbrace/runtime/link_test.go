package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitSnippetContainsLifecycleCalls(t *testing.T) {
	snippet := InitSnippet()
	if !strings.Contains(snippet, "hbrace.Init()") {
		t.Errorf("InitSnippet() missing hbrace.Init(): %q", snippet)
	}
	if !strings.Contains(snippet, "defer hbrace.Fini()") {
		t.Errorf("InitSnippet() missing defer hbrace.Fini(): %q", snippet)
	}
}

func TestBuildFlagsIsEmptyToday(t *testing.T) {
	if flags := BuildFlags(); len(flags) != 0 {
		t.Errorf("BuildFlags() = %v, want none yet", flags)
	}
}

func TestFindProjectRoot(t *testing.T) {
	root, err := findProjectRoot()
	if err != nil {
		t.Logf("findProjectRoot() error: %v (expected outside a development checkout)", err)
		return
	}

	if _, err := os.Stat(filepath.Join(root, "internal", "engine")); err != nil {
		t.Errorf("findProjectRoot() returned %q but it has no internal/engine: %v", root, err)
	}
}

func TestWireGoModAddsRequire(t *testing.T) {
	dir := t.TempDir()
	goMod := "module example.com/target\n\ngo 1.21\n"
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goMod), 0644); err != nil {
		t.Fatalf("failed to write go.mod: %v", err)
	}

	if err := WireGoMod(dir); err != nil {
		t.Fatalf("WireGoMod() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		t.Fatalf("failed to read go.mod: %v", err)
	}

	if !strings.Contains(string(data), RuntimeImportPath) {
		t.Errorf("go.mod missing %s after WireGoMod():\n%s", RuntimeImportPath, data)
	}
}

func TestWireGoModIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	goMod := "module example.com/target\n\ngo 1.21\n"
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goMod), 0644); err != nil {
		t.Fatalf("failed to write go.mod: %v", err)
	}

	if err := WireGoMod(dir); err != nil {
		t.Fatalf("first WireGoMod() error: %v", err)
	}
	if err := WireGoMod(dir); err != nil {
		t.Fatalf("second WireGoMod() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		t.Fatalf("failed to read go.mod: %v", err)
	}
	if strings.Count(string(data), "require "+RuntimeImportPath) > 1 {
		t.Errorf("go.mod has a duplicated require after two WireGoMod() calls:\n%s", data)
	}
}
