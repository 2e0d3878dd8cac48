package submit

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/freema/askshell/internal/apperror"
	"github.com/freema/askshell/internal/history"
	"github.com/freema/askshell/internal/logger"
	"github.com/freema/askshell/internal/shell"
	"github.com/freema/askshell/internal/webhook"
)

var validate = validator.New()

// Request describes a run submitted over HTTP or the Redis intake.
type Request struct {
	ShellInput       string            `json:"shell_input" validate:"required,max=102400"`
	Cwd              string            `json:"cwd,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	Attempts         int               `json:"attempts,omitempty" validate:"gte=0,lte=100"`
	AllowNonZeroExit bool              `json:"allow_non_zero_exit,omitempty"`
	// RetryOnOutput limits retries to attempts whose output contains it.
	RetryOnOutput   string `json:"retry_on_output,omitempty" validate:"max=1024"`
	SkipBinaryCheck bool   `json:"skip_binary_check,omitempty"`
	PrintPrefix     string `json:"print_prefix,omitempty" validate:"max=256"`
	CallbackURL     string `json:"callback_url,omitempty" validate:"omitempty,url"`
	CorrelationID   string `json:"correlation_id,omitempty" validate:"max=128"`
}

// Config converts the request into a run configuration.
func (r Request) Config() shell.Config {
	cfg := shell.NewConfig(r.ShellInput,
		shell.WithCwd(r.Cwd),
		shell.WithAttempts(r.Attempts),
		shell.WithPrintPrefix(r.PrintPrefix),
	)
	for _, k := range slices.Sorted(maps.Keys(r.Env)) {
		cfg = cfg.With(shell.WithEnv(k, r.Env[k]))
	}
	if r.AllowNonZeroExit {
		cfg = cfg.With(shell.WithAllowNonZeroExit())
	}
	if r.SkipBinaryCheck {
		cfg = cfg.With(shell.WithSkipBinaryCheck())
	}
	if marker := r.RetryOnOutput; marker != "" {
		cfg = cfg.With(shell.WithShouldRetry(func(run *shell.Run) bool {
			return strings.Contains(run.Stdout(), marker) || strings.Contains(run.Stderr(), marker)
		}))
	}
	return cfg
}

// Validate checks the request fields.
func (r Request) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return apperror.Validation("validation failed: %v", err)
	}
	appErr := apperror.Validation("validation failed")
	appErr.Fields = make(map[string]string, len(validationErrs))
	for _, e := range validationErrs {
		appErr.Fields[e.Field()] = formatValidationError(e)
	}
	return appErr
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "url":
		return "must be a valid URL"
	case "max":
		return "exceeds maximum length"
	case "gte", "lte":
		return "out of range"
	default:
		return "invalid value"
	}
}

// Service submits requests through a RunPool and answers run lookups from
// the scheduler first and the history store second.
type Service struct {
	scheduler *shell.Scheduler
	pool      *shell.RunPool
	webhooks  *webhook.Sender
	store     *history.Store
}

// NewService creates a submit service. webhooks and store may be nil.
func NewService(scheduler *shell.Scheduler, pool *shell.RunPool, webhooks *webhook.Sender, store *history.Store) *Service {
	return &Service{scheduler: scheduler, pool: pool, webhooks: webhooks, store: store}
}

// Submit validates req and starts it.
func (s *Service) Submit(ctx context.Context, req Request) (*shell.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.CallbackURL != "" && s.webhooks == nil {
		return nil, apperror.Validation("callback_url requires webhooks.hmac_secret to be configured")
	}

	run, err := s.pool.Submit(ctx, req.Config())
	if err != nil {
		return run, err
	}
	if req.CallbackURL != "" {
		s.webhooks.NotifyOnDone(run, req.CallbackURL)
	}

	logger.FromContext(ctx).Info("run submitted", "run_id", run.ID, "prefix", run.Config().PrintPrefix, "correlation_id", req.CorrelationID)
	return run, nil
}

// Lookup returns a run that has not completed yet.
func (s *Service) Lookup(id string) (*shell.Run, bool) {
	return s.scheduler.Lookup(id)
}

// Get returns the summary of run id.
func (s *Service) Get(ctx context.Context, id string) (shell.Summary, error) {
	if run, ok := s.scheduler.Lookup(id); ok {
		return run.Summary(), nil
	}
	if s.store != nil {
		return s.store.Get(ctx, id)
	}
	return shell.Summary{}, apperror.NotFound("run %s not found", id)
}

// List returns the active runs followed by up to limit finished ones.
func (s *Service) List(ctx context.Context, limit int) ([]shell.Summary, error) {
	active := s.scheduler.ActiveRuns()
	out := make([]shell.Summary, 0, len(active))
	seen := make(map[string]bool, len(active))
	for _, run := range active {
		out = append(out, run.Summary())
		seen[run.ID] = true
	}
	if s.store == nil {
		return out, nil
	}
	past, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, sum := range past {
		if !seen[sum.ID] {
			out = append(out, sum)
		}
	}
	return out, nil
}

// Kill terminates run id. Finished runs yield a conflict.
func (s *Service) Kill(ctx context.Context, id string, immediate bool) (shell.Summary, error) {
	run, ok := s.scheduler.Lookup(id)
	if !ok {
		if _, err := s.Get(ctx, id); err != nil {
			return shell.Summary{}, err
		}
		return shell.Summary{}, apperror.Conflict("run %s already finished", id)
	}
	abort := s.scheduler.Options().AbortTimeout
	shell.Kill(ctx, run, shell.KillOptions{
		Immediate:    immediate,
		Reason:       "admin api",
		AbortTimeout: abort,
	})
	// A run killed before its process started resolves on its own worker.
	return run.WaitNoRaise(abort + time.Second).Summary(), nil
}

// Ready reports whether new runs are accepted.
func (s *Service) Ready() bool {
	return s.scheduler.State().AcceptsRuns()
}

// InFlight returns the number of runs submitted here and not yet complete.
func (s *Service) InFlight() int {
	return s.pool.InFlight()
}

// Close waits for this service's in-flight runs.
func (s *Service) Close() error {
	return s.pool.Close()
}
