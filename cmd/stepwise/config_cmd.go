package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/odvcencio/stepwise/pkg/terminal"
)

func runConfigCommand(args []string, stdout io.Writer) error {
	if len(args) == 0 || args[0] != "check" {
		return usageError(errors.New("usage: stepwise config check [--config FILE]"))
	}
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "config file layered over the default locations")
	if err := fs.Parse(args[1:]); err != nil {
		return usageError(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	out := terminal.NewWithOutput(stdout)
	out.Success("configuration is valid")
	if providers := cfg.Providers.ReadyProviders(); len(providers) > 0 {
		out.Dim("providers: %s", strings.Join(providers, ", "))
	}
	out.Dim("bind: %s", cfg.Server.Bind)
	out.Dim("tools: %d configured", len(cfg.Tools.Endpoints))
	for _, warning := range cfg.ValidationWarnings() {
		out.Warn("%s", warning)
	}
	if !cfg.Providers.HasReadyProvider() {
		return fmt.Errorf("no model provider is ready")
	}
	return nil
}
