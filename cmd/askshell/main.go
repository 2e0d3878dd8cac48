package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/freema/askshell/internal/config"
	"github.com/freema/askshell/internal/logger"
	"github.com/freema/askshell/internal/runlogs"
	"github.com/freema/askshell/internal/shell"
)

var version = "dev"

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "askshell",
		Short:         "Run shell commands with retries, logs and process-group kills",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to askshell.yaml (default $ASKSHELL_CONFIG or ./askshell.yaml)")

	root.AddCommand(
		newRunCmd(&configPath),
		newServeCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "askshell", version)
			},
		},
	)
	return root
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// newScheduler builds the process-wide scheduler from cfg.
func newScheduler(cfg *config.Config, handlers ...shell.Handler) *shell.Scheduler {
	s := shell.NewScheduler(shell.Options{
		Workers:       cfg.Runner.Workers,
		ThreadsPerRun: cfg.Runner.ThreadsPerRun,
		PoolFullWait:  cfg.Runner.PoolFullWait(),
		AbortTimeout:  cfg.Runner.AbortTimeout,
		Interpreter:   cfg.Runner.Interpreter,
		LogDirs:       runlogs.NewManager(cfg.Logs.Root, cfg.Logs.AutoClean),
		Handlers:      handlers,
	})
	shell.SetDefault(s)
	slog.Debug("scheduler ready", "workers", cfg.Runner.Workers, "max_runs", s.MaxRunCount())
	return s
}
