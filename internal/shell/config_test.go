package shell

import (
	"errors"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/freema/askshell/internal/apperror"
)

func TestConfigWithCopies(t *testing.T) {
	base := NewConfig("echo hi", WithEnv("A", "1"))
	derived := base.With(WithEnv("A", "2"), WithAttempts(3))

	if base.Env["A"] != "1" || base.Attempts != 0 {
		t.Fatalf("base config was mutated: %+v", base)
	}
	if derived.Env["A"] != "2" || derived.Attempts != 3 {
		t.Fatalf("derived config missing overrides: %+v", derived)
	}
}

func TestRunLogStem(t *testing.T) {
	cfg := NewConfig("terraform plan")
	if got := cfg.RunLogStem(1); got != "terraform" {
		t.Errorf("attempt 1 stem = %q", got)
	}
	if got := cfg.RunLogStem(3); got != "terraform_3" {
		t.Errorf("attempt 3 stem = %q", got)
	}
	cfg.RunLogStemPrefix = "ci"
	if got := cfg.RunLogStem(2); got != "ci_terraform_2" {
		t.Errorf("prefixed stem = %q", got)
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Setenv("COLUMNS", "")
	os.Unsetenv("COLUMNS")
	dir := t.TempDir()
	rc, err := NewConfig("kubectl get pods", WithCwd(dir), WithSkipBinaryCheck()).resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rc.Attempts != 1 || rc.TerminalWidth != DefaultTerminalWidth || rc.ShouldRetry == nil {
		t.Errorf("defaults not applied: %+v", rc.Config)
	}
	if rc.ANSIContent == nil || !*rc.ANSIContent {
		t.Error("expected ANSI content inferred for kubectl")
	}
	if !strings.HasSuffix(rc.PrintPrefix, "kubectl get") {
		t.Errorf("unexpected print prefix %q", rc.PrintPrefix)
	}
	if !slices.Contains(rc.environ, "COLUMNS=999") {
		t.Error("expected COLUMNS exported to the child")
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"empty input", NewConfig(""), apperror.ErrValidation},
		{"missing cwd", NewConfig("echo", WithCwd("/does/not/exist")), apperror.ErrValidation},
		{"negative attempts", NewConfig("echo", WithAttempts(-1)), apperror.ErrValidation},
		{"unknown binary", NewConfig("no-such-binary-abc"), apperror.ErrBinaryNotFound},
		{"only redirect", NewConfig("> out.txt"), apperror.ErrValidation},
	}
	for _, tt := range tests {
		_, err := tt.cfg.resolve()
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestBuildEnvironSkipOSEnv(t *testing.T) {
	t.Setenv("ASKSHELL_TEST_LEAK", "1")
	env := buildEnviron(NewConfig("env", WithSkipOSEnv(), WithEnv("ONLY", "me")))
	for _, kv := range env {
		if strings.HasPrefix(kv, "ASKSHELL_TEST_LEAK=") {
			t.Fatal("os environment leaked despite SkipOSEnv")
		}
	}
	if !slices.Contains(env, "ONLY=me") {
		t.Fatalf("override missing from %v", env)
	}
}
