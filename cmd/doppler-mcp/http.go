package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jkaninda/doppler-mcp/internal/config"
	"github.com/jkaninda/doppler-mcp/internal/gateway"
	"github.com/jkaninda/doppler-mcp/internal/ratelimit"
)

var (
	httpConfigPath string
	httpAddr       string
)

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Start the MCP server on streamable HTTP with health and metrics endpoints",
	RunE:  runHTTP,
}

func init() {
	httpCmd.Flags().StringVar(&httpConfigPath, "config", "", "path to config file (JSON or YAML)")
	httpCmd.Flags().StringVar(&httpAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
}

// runHTTP starts the streamable HTTP transport behind the okapi gateway.
func runHTTP(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(httpConfigPath)
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if httpAddr != "" {
		if cfg.HTTP == nil {
			cfg.HTTP = &config.HTTPConfig{}
		}
		cfg.HTTP.ListenAddr = httpAddr
	}

	rt, err := initRuntime(cfg)
	if err != nil {
		return err
	}

	gwCfg := gateway.Config{
		ListenAddr:    cfg.HTTP.Addr(),
		HealthChecker: rt.Obs.HealthOrNil(),
		Metrics:       rt.Obs.MetricsOrNil(),
	}
	if cfg.HTTP != nil {
		gwCfg.AuthToken = cfg.HTTP.AuthToken
		if cfg.HTTP.RateLimit.RequestsPerMinute > 0 {
			gwCfg.RateLimiter = ratelimit.NewLimiter(ratelimit.Config{
				RequestsPerMinute: cfg.HTTP.RateLimit.RequestsPerMinute,
				BurstSize:         cfg.HTTP.RateLimit.BurstSize,
			})
		}
	}
	if m := rt.Obs.MetricsOrNil(); m != nil {
		gwCfg.MetricsRegistry = m.Registry
	}
	if cfg.Observability != nil && cfg.Observability.Metrics != nil {
		gwCfg.MetricsPath = cfg.Observability.Metrics.Path
	}
	if ts := rt.Obs.TracerOrNil(); ts != nil {
		gwCfg.Tracer = ts.Tracer()
	}

	mcpHandler := mcpserver.NewStreamableHTTPServer(rt.Server.MCP())
	gw := gateway.New(gwCfg, mcpHandler, rt.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		rt.Logger.Warn("gateway shutdown", slog.String("error", err.Error()))
	}
	rt.Obs.Shutdown(shutdownCtx)

	rt.Logger.Info("http gateway stopped")
	return nil
}
