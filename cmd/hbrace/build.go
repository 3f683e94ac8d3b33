// build.go implements the 'hbrace build' command.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kelenar/hbrace/cmd/hbrace/runtime"
	"github.com/kelenar/hbrace/internal/config"
)

// buildCommand implements 'hbrace build': validate a -config file if one
// was given, wire the target module's go.mod against the hbrace runtime,
// then forward everything else to 'go build' unchanged.
func buildCommand(args []string) {
	configPath, rest := extractConfigFlag(args)
	if configPath != "" {
		if _, err := config.Load(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
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

	goArgs := append([]string{"build"}, rest...)
	goArgs = append(goArgs, runtime.BuildFlags()...)

	cmd := exec.Command("go", goArgs...)
	cmd.Dir = workDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		os.Exit(1)
	}

	if out := outputFileFlag(rest); out != "" {
		fmt.Printf("Built successfully: %s\n", out)
	}
}

// outputFileFlag extracts the value of a go build "-o" flag from args, for
// the success message only; go build itself still receives args unchanged.
func outputFileFlag(args []string) string {
	for i, arg := range args {
		if arg == "-o" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "-o=") {
			return strings.TrimPrefix(arg, "-o=")
		}
	}
	return ""
}
