package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/odvcencio/stepwise/pkg/engine"
	"github.com/odvcencio/stepwise/pkg/terminal"
)

// runIterateCommand runs exactly one iteration for a request read from a
// file or stdin and prints the response.
func runIterateCommand(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("iterate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file layered over the default locations")
	file := fs.String("file", "-", "request JSON file, or - for stdin")
	asJSON := fs.Bool("json", false, "print the raw response JSON")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}

	req, err := readRequest(*file, stdin)
	if err != nil {
		return usageError(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, stderr)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var spinner *terminal.Spinner
	if !*asJSON && terminal.IsTerminal(stderr) {
		spinner = terminal.NewSpinner(stderr, "iterating with "+req.Model)
		spinner.Start()
	}
	resp := a.engine.Iterate(ctx, req)
	if spinner != nil {
		spinner.Stop()
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		terminal.NewWithOutput(stdout).Iteration(resp)
	}

	if !resp.Success {
		return exitError{code: exitFailed, err: fmt.Errorf("iteration failed [%s]: %s", resp.ErrorCode, resp.Error)}
	}
	return nil
}

func readRequest(path string, stdin io.Reader) (*engine.Request, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		if stdin == nil {
			return nil, errors.New("no request: pass --file or pipe JSON on stdin")
		}
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	var req engine.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}
