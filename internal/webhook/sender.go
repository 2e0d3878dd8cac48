package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/freema/askshell/internal/metrics"
	"github.com/freema/askshell/internal/shell"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body, prefixed "sha256=".
const SignatureHeader = "X-Signature-256"

// Payload is the webhook request body.
type Payload struct {
	RunID      string    `json:"run_id"`
	ShellInput string    `json:"shell_input"`
	Status     string    `json:"status"`
	Attempt    int       `json:"attempt"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	StdoutTail string    `json:"stdout_tail,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// PayloadFor builds the completion payload of run.
func PayloadFor(run *shell.Run) Payload {
	sum := run.Summary()
	return Payload{
		RunID:      sum.ID,
		ShellInput: sum.ShellInput,
		Status:     sum.Status,
		Attempt:    sum.Attempt,
		ExitCode:   sum.ExitCode,
		Error:      sum.Error,
		StdoutTail: sum.StdoutTail,
		TraceID:    sum.TraceID,
		FinishedAt: sum.FinishedAt,
	}
}

// Sender delivers webhook callbacks with HMAC-SHA256 signatures.
type Sender struct {
	client     *http.Client
	secret     string
	maxRetries int
	baseDelay  time.Duration
}

// NewSender creates a webhook sender.
func NewSender(secret string, maxRetries int, baseDelay time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		secret:     secret,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// NotifyOnDone delivers the completion payload of run to callbackURL once
// the run is terminal. Delivery happens in the background.
func (s *Sender) NotifyOnDone(run *shell.Run, callbackURL string) {
	run.OnDone(func() {
		payload := PayloadFor(run)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := s.Send(ctx, callbackURL, payload); err != nil {
				slog.Error("webhook delivery failed", "run_id", run.ID, "error", err)
			}
		}()
	})
}

// Send delivers a webhook to the callback URL with retries and exponential backoff.
func (s *Sender) Send(ctx context.Context, callbackURL string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	sig := Sign(s.secret, body)
	eventType := "run." + payload.Status

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(5, float64(attempt-1))) * s.baseDelay
			slog.Info("webhook retry", "attempt", attempt, "delay", delay, "url", callbackURL)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("creating webhook request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, "sha256="+sig)
		req.Header.Set("X-Askshell-Event", eventType)
		if payload.TraceID != "" {
			req.Header.Set("X-Trace-ID", payload.TraceID)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			slog.Warn("webhook request failed", "attempt", attempt, "error", err, "url", callbackURL)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			slog.Info("webhook delivered", "url", callbackURL, "status", resp.StatusCode, "attempt", attempt)
			metrics.WebhookDeliveries.WithLabelValues("success").Inc()
			return nil
		}

		slog.Warn("webhook non-2xx response", "attempt", attempt, "status", resp.StatusCode, "url", callbackURL)
	}

	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	return fmt.Errorf("webhook delivery failed after %d attempts to %s", s.maxRetries+1, callbackURL)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
