package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/freema/askshell/internal/runlogs"
	"github.com/freema/askshell/internal/shell"
)

func TestSendSignsBody(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if sig := r.Header.Get(SignatureHeader); sig != "sha256="+Sign("s3cret", body) {
			t.Errorf("bad signature %q", sig)
		}
		if ev := r.Header.Get("X-Askshell-Event"); ev != "run.completed" {
			t.Errorf("unexpected event header %q", ev)
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewSender("s3cret", 0, time.Millisecond)
	err := s.Send(context.Background(), srv.URL, Payload{RunID: "r1", Status: shell.StatusCompleted})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.RunID != "r1" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestSendRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender("k", 2, time.Millisecond)
	if err := s.Send(context.Background(), srv.URL, Payload{RunID: "r"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 calls, got %d", n)
	}
}

func TestSendGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSender("k", 1, time.Millisecond)
	if err := s.Send(context.Background(), srv.URL, Payload{RunID: "r"}); err == nil {
		t.Error("expected delivery failure")
	}
}

func TestNotifyOnDone(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
	}))
	defer srv.Close()

	sched := shell.NewScheduler(shell.Options{Workers: 8, LogDirs: runlogs.NewManager(t.TempDir(), true)})
	defer sched.Shutdown()

	traceID := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  trace.SpanID{0, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
	}))
	run, err := sched.Start(ctx, shell.NewConfig("exit 4"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	NewSender("k", 0, time.Millisecond).NotifyOnDone(run, srv.URL)

	select {
	case p := <-received:
		if p.RunID != run.ID || p.Status != shell.StatusFailed || p.ExitCode == nil || *p.ExitCode != 4 {
			t.Errorf("unexpected payload %+v", p)
		}
		if p.TraceID != traceID.String() {
			t.Errorf("expected trace id %s, got %q", traceID, p.TraceID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}
