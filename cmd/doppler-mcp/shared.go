package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/doppler-mcp/internal/config"
	"github.com/jkaninda/doppler-mcp/internal/doppler"
	"github.com/jkaninda/doppler-mcp/internal/observability"
	"github.com/jkaninda/doppler-mcp/internal/server"
)

// Runtime bundles the components shared by the stdio and HTTP modes.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Client *doppler.Client
	Server *server.Server
	Obs    *observability.Observability
}

// loadConfig resolves the effective configuration: the DOPPLER_MCP_CONFIG
// env var wins over the --config flag, and with neither set the config
// comes entirely from the environment.
func loadConfig(flagPath string) (*config.Config, error) {
	path := goutils.Env("DOPPLER_MCP_CONFIG", flagPath)
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// buildLogger creates the slog logger. Output always goes to stderr:
// in stdio mode stdout belongs to the MCP transport.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// initRuntime wires config, observability, the Doppler client, and the MCP
// server together.
func initRuntime(cfg *config.Config) (*Runtime, error) {
	logger := buildLogger(cfg.Logging)

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, err
	}

	client, err := doppler.NewClient(doppler.ClientConfig{
		Token:      cfg.Doppler.Token,
		BaseURL:    cfg.Doppler.BaseURL,
		Timeout:    cfg.Doppler.Timeout(),
		MaxRetries: cfg.Doppler.Retries(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating doppler client: %w", err)
	}
	if m := obs.MetricsOrNil(); m != nil {
		client.WithObserver(m)
	}

	srvCfg := server.Config{
		Version:   version,
		ReadWrite: cfg.Tools.ReadWrite,
		Resources: cfg.Tools.Resources,
		Metrics:   obs.MetricsOrNil(),
	}
	if ts := obs.TracerOrNil(); ts != nil {
		srvCfg.Tracer = ts.Tracer()
	}

	// Readiness depends on the Doppler API accepting our token.
	if h := obs.HealthOrNil(); h != nil {
		h.AddCheck("doppler_api", func(ctx context.Context) error {
			if !client.ValidateConnection(ctx) {
				return fmt.Errorf("doppler api unreachable or token rejected")
			}
			return nil
		})
	}

	return &Runtime{
		Config: cfg,
		Logger: logger,
		Client: client,
		Server: server.New(client, srvCfg, logger),
		Obs:    obs,
	}, nil
}
