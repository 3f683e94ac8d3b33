// Package runtime wires a target module's go.mod so its build can import
// the hbrace detector runtime, and reports the flags and init snippet a
// caller needs to link against it.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

// RuntimeImportPath is the import path instrumented or hand-written code
// uses to reach the detector's public API.
const RuntimeImportPath = "github.com/kelenar/hbrace/hbrace"

// RuntimeVersion is required into a wired go.mod that does not already
// require RuntimeImportPath; inside a development checkout a local replace
// directive is added as well.
const RuntimeVersion = "v0.1.0"

// InitSnippet is the Go source a caller should place at the top of main,
// and defer immediately after, to link the detector's lifecycle into a
// program; none of this tool's build/run/test commands insert it.
func InitSnippet() string {
	return "hbrace.Init()\ndefer hbrace.Fini()"
}

// ValidateRuntimeAvailable looks for a development checkout (via
// findProjectRoot) and always returns nil, whether or not one is found:
// it does not check the module cache, and an unreachable runtime only
// surfaces as an error from `go build` itself.
func ValidateRuntimeAvailable() error {
	if _, err := findProjectRoot(); err == nil {
		return nil
	}
	return nil
}

// findProjectRoot walks up from the current working directory looking
// for the hbrace checkout itself, identified by internal/engine existing
// alongside a go.mod. Returns an error once it reaches the filesystem
// root without finding one, signaling the caller should wire
// RuntimeImportPath as a published dependency instead of a local replace.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, "internal", "engine")); err == nil {
			if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("hbrace: could not locate a development checkout from %s", cwd)
}

// BuildFlags returns extra flags the wrapped go build/run/test invocation
// should carry. None are required today; this stays as the hook the build,
// run, and test commands all call so a future flag (a build tag gating an
// instrumentation-aware fast path, say) has one place to land.
func BuildFlags() []string {
	return nil
}

// WireGoMod ensures the go.mod in dir requires RuntimeImportPath,
// replacing it with a local path when run from inside a development
// checkout. It edits the file in place using golang.org/x/mod/modfile
// rather than text-templating a new one, so an existing require for the
// same module is kept as is and an existing replace is updated rather
// than duplicated.
func WireGoMod(dir string) error {
	modPath := filepath.Join(dir, "go.mod")
	data, err := os.ReadFile(modPath)
	if err != nil {
		return fmt.Errorf("runtime: reading %s: %w", modPath, err)
	}

	f, err := modfile.Parse(modPath, data, nil)
	if err != nil {
		return fmt.Errorf("runtime: parsing %s: %w", modPath, err)
	}

	if !requires(f, RuntimeImportPath) {
		if err := f.AddRequire(RuntimeImportPath, RuntimeVersion); err != nil {
			return fmt.Errorf("runtime: adding require %s: %w", RuntimeImportPath, err)
		}
	}

	if root, err := findProjectRoot(); err == nil {
		if err := f.AddReplace(RuntimeImportPath, "", root, ""); err != nil {
			return fmt.Errorf("runtime: adding replace %s => %s: %w", RuntimeImportPath, root, err)
		}
	}

	f.Cleanup()
	out, err := f.Format()
	if err != nil {
		return fmt.Errorf("runtime: formatting %s: %w", modPath, err)
	}

	return os.WriteFile(modPath, out, 0644)
}

func requires(f *modfile.File, path string) bool {
	for _, r := range f.Require {
		if r.Mod.Path == path {
			return true
		}
	}
	return false
}
