// Package cli provides the command-line interface for alpar.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alpar-labs/alpar/internal/client"
	"github.com/alpar-labs/alpar/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config, logger and server client
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "alpar",
	Short: "Terminal chat client for the ALPAR agent",
	Long: `alpar talks to an alpar-server instance: chat with the agent in a
terminal UI, send one-off questions, check the server health or look at the
sample chart data.

The server URL comes from --server, ALPAR_SERVER_URL or defaults to
http://localhost:5000.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		// Logs go to the file only; stderr belongs to the terminal UI.
		logger, closeLog = config.SetupFileLogger(cfg.LogFile, level)

		url := serverURL
		if url == "" {
			url = cfg.ServerURL
		}
		apiClient = client.New(url, cfg.ClientTimeout)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the running command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to the log file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "alpar-server URL")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(chartCmd)
	rootCmd.AddCommand(statsCmd)
}
