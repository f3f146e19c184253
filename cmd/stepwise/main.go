// Command stepwise runs the stateless agent iteration engine, either as an
// HTTP service or for a single iteration from a request file.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printHelp(stderr)
		return exitUsage
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion(stdout)
		return exitOK
	case "--help", "-h", "help":
		printHelp(stdout)
		return exitOK
	case "serve":
		return runCommand(stderr, func() error { return runServeCommand(args[1:], stderr) })
	case "iterate":
		return runCommand(stderr, func() error { return runIterateCommand(args[1:], stdin, stdout, stderr) })
	case "token":
		return runCommand(stderr, func() error { return runTokenCommand(args[1:], stdout) })
	case "config":
		return runCommand(stderr, func() error { return runConfigCommand(args[1:], stdout) })
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		printHelp(stderr)
		return exitUsage
	}
}

func runCommand(stderr io.Writer, handler func() error) int {
	if err := handler(); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return exitCodeForError(err)
	}
	return exitOK
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "stepwise %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(w, "  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, "  Built:      %s\n", buildDate)
	}
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `stepwise - stateless agent iteration engine

Usage:
  stepwise serve   [--config FILE] [--bind ADDR]
  stepwise iterate [--config FILE] [--file REQUEST.json] [--json]
  stepwise token   --caller NAME [--ttl 24h] [--config FILE]
  stepwise config  check [--config FILE]
  stepwise version

Configuration is read from ~/.stepwise/config.yaml, ./.stepwise/config.yaml,
the --config file and the environment, in that order.

Exit codes: 0 success, 1 iteration or runtime failure, 2 usage or configuration error.
`)
}
