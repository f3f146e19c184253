package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/odvcencio/stepwise/pkg/api"
	"github.com/odvcencio/stepwise/pkg/config"
	"github.com/odvcencio/stepwise/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

func runServeCommand(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file layered over the default locations")
	bind := fs.String("bind", "", "address to listen on (overrides server.bind)")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}

	a, err := newApp(cfg, stderr)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(ctx); err != nil {
			_ = a.logger.Warn(logging.CategoryEngine, "shutdown.close_failed", "error releasing resources", map[string]any{"error": err.Error()})
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchPath := configWatchPath(*configPath); watchPath != "" {
		watcher, err := startConfigWatcher(ctx, watchPath, a)
		if err != nil {
			_ = a.logger.Warn(logging.CategoryConfig, "config.watch_failed", "config changes will need a restart", map[string]any{
				"path":  watchPath,
				"error": err.Error(),
			})
		} else {
			defer watcher.Stop()
		}
	}

	serverCfg := api.ServerConfig{
		Address:      cfg.Server.Bind,
		Engine:       a.engine,
		Events:       a.events,
		Ready:        cfg.Providers.HasReadyProvider,
		JWTSecret:    cfg.Server.JWTSecret,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Logger:       a.logger,
	}
	if a.archive != nil {
		serverCfg.Archive = a.archive
	}
	server := api.NewServer(serverCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	_ = a.logger.Info(logging.CategoryAPI, "server.started", "listening", map[string]any{
		"bind":      cfg.Server.Bind,
		"providers": cfg.Providers.ReadyProviders(),
		"tools":     a.registry.Names(),
		"auth":      cfg.Server.JWTSecret != "",
		"archive":   cfg.Archive.Path,
	})

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	_ = a.logger.Info(logging.CategoryAPI, "server.stopping", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// configWatchPath is the explicit config file, or the project config when
// one exists.
func configWatchPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	project := filepath.Join(".stepwise", "config.yaml")
	if _, err := os.Stat(project); err == nil {
		return project
	}
	return ""
}

// startConfigWatcher returns a running watcher. On failure nothing is left
// holding fsnotify resources.
func startConfigWatcher(ctx context.Context, path string, a *app) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(path, a.logger, a.applyConfig)
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		return nil, err
	}
	return watcher, nil
}
