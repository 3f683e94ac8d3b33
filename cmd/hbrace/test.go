// test.go implements the 'hbrace test' command.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/kelenar/hbrace/cmd/hbrace/runtime"
)

// testCommand implements 'hbrace test': wire the target module's go.mod
// against the hbrace runtime, then exec 'go test' with HBRACE_CONFIG set
// in the child's environment when -config was given. Packages under test
// call hbrace.InitFromEnv (typically from a TestMain) to pick it up.
func testCommand(args []string) {
	configPath, rest := extractConfigFlag(args)

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to get working directory: %v\n", err)
		os.Exit(1)
	}

	if err := runtime.ValidateRuntimeAvailable(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: hbrace runtime not found\n%v\n", err)
		os.Exit(1)
	}

	if err := runtime.WireGoMod(workDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error wiring go.mod: %v\n", err)
		os.Exit(1)
	}

	packages, flags := splitTestArgs(rest)
	if len(packages) == 0 {
		packages = []string{"./..."}
	}

	goArgs := []string{"test"}
	goArgs = append(goArgs, flags...)
	goArgs = append(goArgs, runtime.BuildFlags()...)
	goArgs = append(goArgs, packages...)

	cmd := exec.Command("go", goArgs...)
	cmd.Dir = workDir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if configPath != "" {
		cmd.Env = append(cmd.Env, "HBRACE_CONFIG="+configPath)
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error running tests: %v\n", err)
		os.Exit(1)
	}
}

// splitTestArgs separates go test flags from package patterns: anything
// starting with "-" is a flag (consuming a following value argument when
// needsValue says so), everything else is a package pattern.
func splitTestArgs(args []string) (packages []string, flags []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) > 0 && arg[0] == '-' {
			flags = append(flags, arg)
			if needsValue(arg) && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
			continue
		}
		packages = append(packages, arg)
	}
	return packages, flags
}
