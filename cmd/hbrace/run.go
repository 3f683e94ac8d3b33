// run.go implements the 'hbrace run' command.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/kelenar/hbrace/cmd/hbrace/runtime"
)

// runCommand implements 'hbrace run': wire the target module's go.mod
// against the hbrace runtime, then exec 'go run' with HBRACE_CONFIG set in
// the child's environment when -config was given, so a program calling
// hbrace.InitFromEnv picks it up without a recompile.
func runCommand(args []string) {
	configPath, rest := extractConfigFlag(args)
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no package or source file specified")
		os.Exit(1)
	}

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

	goArgs := []string{"run"}
	goArgs = append(goArgs, runtime.BuildFlags()...)
	goArgs = append(goArgs, rest...)

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
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
