package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "askshell ") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRunFlagsConfig(t *testing.T) {
	f := runFlags{attempts: 2, env: []string{"A=1", "B=x=y"}, allowNonZeroExit: true}
	cfg, err := f.config("echo hi")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Attempts != 2 || cfg.Env["A"] != "1" || cfg.Env["B"] != "x=y" || !cfg.AllowNonZeroExit {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, err := (runFlags{env: []string{"novalue"}}).config("true"); err == nil {
		t.Error("expected error for malformed --env")
	}
}

func TestRunCommandExitCode(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ASKSHELL_LOGS__ROOT", t.TempDir())

	root := newRootCmd()
	root.SetArgs([]string{"run", "--", "exit 7"})
	err := root.Execute()

	var exit *exitError
	if err == nil || !errors.As(err, &exit) || exit.code != 7 {
		t.Fatalf("expected exit code 7, got %v", err)
	}
}
