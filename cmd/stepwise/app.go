package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/odvcencio/stepwise/pkg/archive"
	"github.com/odvcencio/stepwise/pkg/bus"
	"github.com/odvcencio/stepwise/pkg/config"
	"github.com/odvcencio/stepwise/pkg/engine"
	"github.com/odvcencio/stepwise/pkg/logging"
	"github.com/odvcencio/stepwise/pkg/model"
	"github.com/odvcencio/stepwise/pkg/telemetry"
	"github.com/odvcencio/stepwise/pkg/tool"
)

// app is the wired process: one engine plus everything it talks to.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *tool.Registry
	client   *http.Client
	bus      bus.MessageBus
	events   *bus.Events
	archive  *archive.Store
	tracer   *telemetry.TracerProvider
	engine   *engine.Controller
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	logger := logging.New(logOut)
	logger.SetMinLevel(logging.ParseLevel(cfg.Logging.Level))
	for _, warning := range cfg.ValidationWarnings() {
		_ = logger.Warn(logging.CategoryConfig, "config.warning", warning, nil)
	}

	a := &app{cfg: cfg, logger: logger, client: &http.Client{}}

	if cfg.Telemetry.Tracing {
		tp, err := telemetry.NewTracerProvider(cfg.Telemetry.ServiceName, version, logOut)
		if err != nil {
			return nil, err
		}
		a.tracer = tp
	}

	a.registry = tool.NewHTTPRegistry(cfg.Tools.Endpoints, a.client,
		tool.Timeout(cfg.Tools.Timeout, cfg.Tools.PerToolTimeouts),
		tool.Instrument(),
		tool.Logging(logger),
	)

	if cfg.Events.NATSURL != "" {
		busCfg := bus.DefaultConfig()
		busCfg.URL = cfg.Events.NATSURL
		nb, err := bus.NewNATSBus(busCfg)
		if err != nil {
			a.close(context.Background())
			return nil, fmt.Errorf("connect event bus: %w", err)
		}
		a.bus = nb
	} else {
		a.bus = bus.NewMemoryBus()
	}
	a.events = bus.NewEvents(a.bus, cfg.Events.SubjectPrefix)

	opts := engine.Options{
		Completer: model.NewClient(model.Options{
			Credentials: credentials(cfg.Providers),
			Timeout:     cfg.Providers.Timeout,
			Logger:      logger,
			NetworkLogs: cfg.Diagnostics.NetworkLogs,
		}),
		Tools:         a.registry,
		MaxParallel:   cfg.Tools.MaxParallel,
		LoopWindow:    cfg.Loop.Window,
		LoopThreshold: cfg.Loop.Threshold,
		MaxTokens:     cfg.Providers.MaxTokens,
		CountTokens:   cfg.Diagnostics.CountTokens,
		Events:        a.events,
		Logger:        logger,
	}

	if cfg.Archive.Path != "" {
		store, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			a.close(context.Background())
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.archive = store
		opts.Archive = store
	}

	a.engine = engine.New(opts)
	return a, nil
}

// applyConfig picks up the parts of a reloaded config that can change
// without a restart.
func (a *app) applyConfig(cfg *config.Config) {
	a.registry.SetEndpoints(cfg.Tools.Endpoints, a.client)
	a.logger.SetMinLevel(logging.ParseLevel(cfg.Logging.Level))
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func credentials(p config.ProviderConfig) map[string]model.Credentials {
	creds := make(map[string]model.Credentials)
	for id, settings := range p.All() {
		if !settings.Enabled {
			continue
		}
		creds[id] = model.Credentials{APIKey: settings.APIKey, BaseURL: settings.BaseURL}
	}
	return creds
}
