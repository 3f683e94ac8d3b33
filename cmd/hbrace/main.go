// Command hbrace wraps the go toolchain so a module depending on
// github.com/kelenar/hbrace/hbrace can build, run, and test with the
// detector wired in without hand-editing go.mod.
//
// Usage:
//
//	hbrace build [-config path] [go build flags] [packages]
//	hbrace run   [-config path] [go run flags] package [arguments...]
//	hbrace test  [-config path] [go test flags] [packages]
//
// Source instrumentation is not this tool's job: programs call
// hbrace.Init/RaceRead/RaceWrite/... themselves (see package hbrace's
// documentation for the manual wiring, and -config for picking a
// detector configuration file at run time without recompiling).
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "build":
		buildCommand(os.Args[2:])
	case "run":
		runCommand(os.Args[2:])
	case "test":
		testCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("hbrace version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`hbrace - happens-before data race detector

USAGE:
    hbrace <command> [arguments]

COMMANDS:
    build      go build a module wired against the hbrace runtime
    run        go run a package wired against the hbrace runtime
    test       go test packages wired against the hbrace runtime
    version    Show version information
    help       Show this help message

All three commands accept a -config <path> flag. build only validates
the file; run and test also set HBRACE_CONFIG in the launched process's
environment, which InitFromEnv (called from main instead of Init) picks
up at startup. Every other flag is forwarded to the underlying go
command unchanged.

EXAMPLES:
    hbrace build -o myapp ./cmd/myapp
    hbrace run -config race.yaml ./cmd/myapp --flag=value
    hbrace test -v ./...

ABOUT:
    hbrace detects data races by tracking a vector clock per goroutine
    and a shadow access per watched memory word, entirely in Go: no
    CGO, no custom toolchain, so it works wherever CGO_ENABLED=0 does
    (cross builds, scratch containers, embedded targets).

    This tool does not instrument source: call hbrace.RaceRead/RaceWrite
    (and friends) directly, or generate the calls with your own tooling.
    hbrace build/run/test exist to wire your go.mod against the runtime
    and forward your configuration, not to rewrite your code.
`)
}
