package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/freema/askshell/internal/history"
	"github.com/freema/askshell/internal/shell"
	"github.com/freema/askshell/internal/tracing"
)

type runFlags struct {
	attempts         int
	cwd              string
	env              []string
	allowNonZeroExit bool
	userInput        bool
	skipBinaryCheck  bool
	prefix           string
	timeout          time.Duration
}

func newRunCmd(configPath *string) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run [flags] -- <shell input>",
		Short: "Run one shell command and wait for it",
		Example: `  askshell run -- terraform plan
  askshell run --attempts 3 --env REGION=eu -- ./deploy.sh`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), *configPath, f, strings.Join(args, " "))
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&f.attempts, "attempts", "a", 1, "number of attempts")
	flags.StringVar(&f.cwd, "cwd", "", "working directory")
	flags.StringArrayVarP(&f.env, "env", "e", nil, "extra environment variable KEY=VALUE (repeatable)")
	flags.BoolVar(&f.allowNonZeroExit, "allow-non-zero-exit", false, "treat a non-zero exit as success")
	flags.BoolVarP(&f.userInput, "user-input", "i", false, "attach stdin and stream output character by character")
	flags.BoolVar(&f.skipBinaryCheck, "skip-binary-check", false, "do not check that the command exists")
	flags.StringVar(&f.prefix, "prefix", "", "log prefix (default inferred from the command)")
	flags.DurationVar(&f.timeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	return cmd
}

func (f runFlags) config(input string) (shell.Config, error) {
	cfg := shell.NewConfig(input,
		shell.WithAttempts(f.attempts),
		shell.WithCwd(f.cwd),
		shell.WithPrintPrefix(f.prefix),
	)
	for _, kv := range f.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return cfg, fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
		}
		cfg = cfg.With(shell.WithEnv(k, v))
	}
	if f.allowNonZeroExit {
		cfg = cfg.With(shell.WithAllowNonZeroExit())
	}
	if f.userInput {
		cfg = cfg.With(shell.WithUserInput())
	}
	if f.skipBinaryCheck {
		cfg = cfg.With(shell.WithSkipBinaryCheck())
	}
	return cfg, nil
}

func runOnce(parent context.Context, configPath string, f runFlags, input string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := shell.InterruptContext(parent)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		ServiceName:  "askshell",
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var handlers []shell.Handler
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		handlers = append(handlers, history.NewRecorder(store))
	}

	runCfg, err := f.config(input)
	if err != nil {
		return err
	}

	sched := newScheduler(cfg, handlers...)
	defer sched.Shutdown()

	run, err := sched.RunAndWait(ctx, runCfg, f.timeout)
	if err == nil {
		return nil
	}

	var runErr *shell.RunError
	if errors.As(err, &runErr) && runErr.Kind == shell.KindExecution && runErr.ExitCode > 0 {
		slog.Error("run failed", "run", run.String(), "exit_code", runErr.ExitCode)
		return &exitError{code: runErr.ExitCode, err: err}
	}
	return err
}
