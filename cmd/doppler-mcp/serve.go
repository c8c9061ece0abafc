package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	serveConfigPath string
	serveReadWrite  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio (default mode)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `doppler-mcp --config path` and `doppler-mcp serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", "", "path to config file (JSON or YAML)")
		cmd.Flags().BoolVar(&serveReadWrite, "read-write", false, "enable write, promote, token, and audit tools")
	}
}

// runServe starts the MCP server on stdio and blocks until the host
// closes the stream or the process receives SIGINT/SIGTERM.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	if serveReadWrite {
		cfg.Tools.ReadWrite = true
	}

	rt, err := initRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = rt.Server.ServeStdio(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rt.Obs.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	rt.Logger.Info("mcp server stopped")
	return nil
}
