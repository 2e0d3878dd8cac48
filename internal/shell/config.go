package shell

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/freema/askshell/internal/apperror"
)

// DefaultTerminalWidth is exported to child processes as COLUMNS so that
// tools writing to a pipe do not wrap their output.
const DefaultTerminalWidth = 999

var validate = validator.New()

// Config describes one command to run. Treat it as immutable once passed to
// Start or RunAndWait; use With to derive variants.
type Config struct {
	ShellInput string            `validate:"required"`
	Cwd        string            // defaults to the current working directory
	Env        map[string]string // merged over os.Environ unless SkipOSEnv
	SkipOSEnv  bool

	Attempts         int `validate:"gte=0,lte=100"`
	AllowNonZeroExit bool
	ShouldRetry      func(run *Run) bool

	// ANSIContent decodes escape sequences to plain text in log files. Nil
	// infers it from the binary being called. OutputLine events always carry
	// the raw line.
	ANSIContent *bool
	// UserInput attaches the host's stdin and switches readers to
	// character mode so prompts without a newline are visible.
	UserInput            bool
	SkipInteractiveCheck bool

	RunOutputDir     string
	RunLogStemPrefix string
	SkipBinaryCheck  bool
	IncludeLogTime   bool

	StartTimeout  time.Duration `validate:"gte=0"`
	TerminalWidth int           `validate:"gte=0"`
	PrintPrefix   string

	Handlers []Handler
}

// Option modifies a copied Config.
type Option func(*Config)

// NewConfig returns a Config for input with opts applied.
func NewConfig(input string, opts ...Option) Config {
	return Config{ShellInput: input}.With(opts...)
}

// With returns a copy of c with opts applied. Maps and slices are cloned
// so the copy can be changed independently.
func (c Config) With(opts ...Option) Config {
	out := c
	out.Env = maps.Clone(c.Env)
	out.Handlers = slices.Clone(c.Handlers)
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

func WithCwd(dir string) Option { return func(c *Config) { c.Cwd = dir } }

func WithAttempts(n int) Option { return func(c *Config) { c.Attempts = n } }

func WithAllowNonZeroExit() Option { return func(c *Config) { c.AllowNonZeroExit = true } }

func WithShouldRetry(fn func(*Run) bool) Option { return func(c *Config) { c.ShouldRetry = fn } }

func WithUserInput() Option { return func(c *Config) { c.UserInput = true } }

func WithSkipBinaryCheck() Option { return func(c *Config) { c.SkipBinaryCheck = true } }

func WithSkipOSEnv() Option { return func(c *Config) { c.SkipOSEnv = true } }

func WithRunOutputDir(dir string) Option { return func(c *Config) { c.RunOutputDir = dir } }

func WithPrintPrefix(prefix string) Option { return func(c *Config) { c.PrintPrefix = prefix } }

func WithStartTimeout(d time.Duration) Option { return func(c *Config) { c.StartTimeout = d } }

// WithEnv sets one environment variable override.
func WithEnv(key, value string) Option {
	return func(c *Config) {
		if c.Env == nil {
			c.Env = make(map[string]string)
		}
		c.Env[key] = value
	}
}

// WithANSIContent forces ANSI handling instead of inferring it.
func WithANSIContent(decode bool) Option {
	return func(c *Config) { c.ANSIContent = &decode }
}

// WithHandlers appends event handlers.
func WithHandlers(hs ...Handler) Option {
	return func(c *Config) { c.Handlers = append(c.Handlers, hs...) }
}

// resolved is a Config after defaults, inference and validation.
type resolved struct {
	Config
	input   parsedInput
	environ []string
}

// ExecName is the name used for log files and output directories.
func (c Config) ExecName() string {
	return parseInput(c.ShellInput, c.Cwd).name()
}

// RunLogStem returns the log file stem for an attempt.
func (c Config) RunLogStem(attempt int) string {
	stem := c.ExecName()
	if c.RunLogStemPrefix != "" {
		stem = c.RunLogStemPrefix + "_" + stem
	}
	if attempt > 1 {
		return fmt.Sprintf("%s_%d", stem, attempt)
	}
	return stem
}

// Validate checks field constraints and the working directory.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperror.Validation("invalid run config: %v", err)
	}
	if c.Cwd != "" {
		info, err := os.Stat(c.Cwd)
		if err != nil || !info.IsDir() {
			return apperror.Validation("cwd %s does not exist", c.Cwd)
		}
	}
	return nil
}

func alwaysRetry(*Run) bool { return true }

// resolve fills defaults and performs the binary and interactive checks.
func (c Config) resolve() (*resolved, error) {
	c = c.With()
	if c.Cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving cwd: %w", err)
		}
		c.Cwd = wd
	}
	if abs, err := filepath.Abs(c.Cwd); err == nil {
		c.Cwd = abs
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Attempts == 0 {
		c.Attempts = 1
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = alwaysRetry
	}
	if c.TerminalWidth == 0 {
		c.TerminalWidth = DefaultTerminalWidth
	}

	input := parseInput(c.ShellInput, c.Cwd)
	if input.empty() {
		return nil, apperror.Validation("shell input %q has no command", c.ShellInput)
	}
	if !c.SkipBinaryCheck {
		if err := input.checkBinary(c.Env, c.Cwd); err != nil {
			return nil, err
		}
	}
	if c.PrintPrefix == "" {
		c.PrintPrefix = input.printPrefix(c.Cwd)
	}
	if c.ANSIContent == nil {
		decode := input.prefersANSI()
		c.ANSIContent = &decode
	}
	if c.UserInput && !c.SkipInteractiveCheck && !InteractiveShell() {
		return nil, apperror.Validation("user input requires an interactive shell, set %s=true to force it", EnvForceInteractive)
	}

	return &resolved{Config: c, input: input, environ: buildEnviron(c)}, nil
}

func buildEnviron(c Config) []string {
	env := make(map[string]string)
	if !c.SkipOSEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
	}
	if _, ok := env["COLUMNS"]; !ok && c.TerminalWidth > 0 {
		env["COLUMNS"] = fmt.Sprint(c.TerminalWidth)
	}
	maps.Copy(env, c.Env)

	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}
