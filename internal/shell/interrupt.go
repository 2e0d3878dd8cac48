package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/freema/askshell/internal/apperror"
)

// InterruptContext returns a context cancelled with cause
// apperror.ErrInterrupted on SIGINT or SIGTERM. Waits on a Scheduler that
// observe this cause stop every run before returning.
func InterruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			slog.Warn("interrupt received", "signal", sig.String())
			cancel(fmt.Errorf("%w: %s", apperror.ErrInterrupted, sig))
		case <-ctx.Done():
		}
	}()

	return ctx, func() { cancel(context.Canceled) }
}

// Interrupted reports whether ctx was cancelled by an interrupt.
func Interrupted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), apperror.ErrInterrupted)
}

// Interrupt cancels ctx the way a received signal would. It is meant for
// callers that detect interruption by other means.
func Interrupt(cancel context.CancelCauseFunc, reason string) {
	cancel(fmt.Errorf("%w: %s", apperror.ErrInterrupted, reason))
}
