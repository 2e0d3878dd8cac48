package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runner.Workers != 50 || cfg.Runner.ThreadsPerRun != 4 {
		t.Errorf("unexpected runner defaults: %+v", cfg.Runner)
	}
	if cfg.Runner.PoolFullWait() != time.Second {
		t.Errorf("expected 1s pool wait, got %s", cfg.Runner.PoolFullWait())
	}
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RUN_THREAD_COUNT", "20")
	t.Setenv("RUN_THREADS_PER_RUN", "5")
	t.Setenv("THREAD_POOL_FULL_WAIT_TIME_SECONDS", "0.5")
	t.Setenv("RUN_UNRELATED", "ignored")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runner.Workers != 20 || cfg.Runner.ThreadsPerRun != 5 {
		t.Errorf("legacy env not applied: %+v", cfg.Runner)
	}
	if cfg.Runner.PoolFullWait() != 500*time.Millisecond {
		t.Errorf("expected 500ms pool wait, got %s", cfg.Runner.PoolFullWait())
	}
}

func TestLoadYAMLAndPrefixedEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "askshell.yaml")
	yml := "runner:\n  workers: 12\nlogging:\n  level: debug\nserver:\n  auth_token: from-file\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RUN_THREAD_COUNT", "30")
	t.Setenv("ASKSHELL_RUNNER__WORKERS", "16")
	t.Setenv("ASKSHELL_LOGS__AUTO_CLEAN", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runner.Workers != 16 {
		t.Errorf("expected ASKSHELL_ env to win, got %d", cfg.Runner.Workers)
	}
	if cfg.Logging.Level != "debug" || cfg.Logs.AutoClean {
		t.Errorf("unexpected merged config: logging=%+v logs=%+v", cfg.Logging, cfg.Logs)
	}
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("ValidateServe: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Runner.Workers = 2
	if err := validate(cfg); err == nil {
		t.Error("expected error when workers < threads_per_run")
	}

	cfg = Defaults()
	cfg.Runner.Interpreter = ""
	if err := validate(cfg); err == nil {
		t.Error("expected error for empty interpreter")
	}

	cfg = Defaults()
	cfg.Intake.Enabled = true
	cfg.Server.AuthToken = "x"
	if err := cfg.ValidateServe(); err == nil {
		t.Error("expected intake without redis to be rejected")
	}
}
