// Package main provides the HTTP chat proxy for ALPAR.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alpar-labs/alpar/internal/agent"
	"github.com/alpar-labs/alpar/internal/charts"
	"github.com/alpar-labs/alpar/internal/config"
	"github.com/alpar-labs/alpar/internal/metrics"
	"github.com/alpar-labs/alpar/internal/server"
	"github.com/alpar-labs/alpar/internal/session"
	"github.com/alpar-labs/alpar/internal/turn"
	"github.com/alpar-labs/alpar/web"
	"github.com/spf13/cobra"
)

var (
	port       string
	configPath string
	verbose    bool
)

func main() {
	cmd := &cobra.Command{
		Use:           "alpar-server",
		Short:         "HTTP chat proxy in front of the ALPAR agent",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (default ALPAR_PORT, PORT or 5000)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (default ALPAR_CONFIG)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if configPath != "" {
		if err := cfg.ApplyFile(configPath); err != nil {
			return err
		}
	}
	if port != "" {
		cfg.Port = port
	}
	if verbose {
		cfg.LogLevel = slog.LevelDebug
	}

	// Initialize logging
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("starting alpar-server", "port", cfg.Port, "backend", cfg.AgentBackend)

	// Connect to the agent; any failure means demo mode
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	api, agentInfo, err := agent.Connect(ctx, cfg, logger)
	cancel()
	if err != nil {
		if errors.Is(err, agent.ErrNotConfigured) {
			slog.Warn("agent not configured, running in demo mode", "error", err)
		} else {
			slog.Error("failed to initialize agent, running in demo mode", "error", err)
		}
		api = nil
	}
	if c, ok := api.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				slog.Error("failed to close agent backend", "error", err)
			}
		}()
	}

	turnCfg := turn.Config{
		PollInterval: cfg.PollInterval,
		RunTimeout:   cfg.RunTimeout,
		MaxPolls:     cfg.MaxPolls,
	}
	collector := metrics.NewCollector()
	orchestrator := turn.New(turn.Options{
		API:     api,
		Agent:   agentInfo,
		Store:   session.NewMemoryStore(),
		Config:  turnCfg,
		Metrics: collector,
		Logger:  logger,
	})

	// Serve the embedded page from web/dist
	distFS, err := fs.Sub(web.Dist, "dist")
	if err != nil {
		return fmt.Errorf("create sub filesystem: %w", err)
	}

	srv := server.New(server.Options{
		Orchestrator: orchestrator,
		Charts:       charts.NewSampleSource(nil),
		Metrics:      collector,
		Logger:       logger,
		Static:       distFS,
	})

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: writeTimeout(turnCfg),
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("chat UI available", "url", fmt.Sprintf("http://localhost:%s/", cfg.Port))
		slog.Info("chat endpoint available", "url", fmt.Sprintf("http://localhost:%s/api/chat", cfg.Port))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	slog.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// writeTimeout leaves room for a turn that polls for its whole budget. An
// unbounded budget disables the write timeout.
func writeTimeout(c turn.Config) time.Duration {
	budget := c.PollBudget()
	if budget == 0 {
		return 0
	}
	return budget + 30*time.Second
}
