package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/odvcencio/stepwise/pkg/api"
)

// runTokenCommand prints a bearer token signed with server.jwt_secret.
func runTokenCommand(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "config file layered over the default locations")
	caller := fs.String("caller", "", "caller name recorded in the token")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}
	if strings.TrimSpace(*caller) == "" {
		return usageError(errors.New("--caller is required"))
	}
	if *ttl <= 0 {
		return usageError(errors.New("--ttl must be positive"))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return usageError(errors.New("server.jwt_secret is not set (or STEPWISE_JWT_SECRET)"))
	}

	token, err := api.NewAuthenticator(cfg.Server.JWTSecret).Issue(strings.TrimSpace(*caller), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}
