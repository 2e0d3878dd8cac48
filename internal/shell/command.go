package shell

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/term"
	"mvdan.cc/sh/v3/syntax"

	"github.com/freema/askshell/internal/apperror"
)

// EnvForceInteractive forces InteractiveShell to report true.
const EnvForceInteractive = "ASKSHELL_FORCE_INTERACTIVE_SHELL"

// Binaries that colour their output even when writing to a pipe.
var ansiBinaries = map[string]bool{
	"terraform": true,
	"kubectl":   true,
}

// Builtins are resolved by the interpreter, not PATH.
var shellBuiltins = map[string]bool{
	"cd": true, "export": true, "set": true, "unset": true, "source": true,
	".": true, "eval": true, "exec": true, "exit": true, "test": true,
	"[": true, "true": true, "false": true, "echo": true, "printf": true,
	"read": true, "trap": true, "wait": true, "ulimit": true, "umask": true,
}

// parsedInput is the first simple command of a shell input.
type parsedInput struct {
	binary   string // set for PATH lookups
	filePath string // set when the command is an executable file
	args     []string
}

func (p parsedInput) empty() bool {
	return p.binary == "" && p.filePath == ""
}

func (p parsedInput) name() string {
	if p.filePath != "" {
		return filepath.Base(p.filePath)
	}
	if p.binary != "" {
		return filepath.Base(p.binary)
	}
	return "shell"
}

func (p parsedInput) prefersANSI() bool {
	return p.binary != "" && ansiBinaries[p.binary]
}

// firstArg returns the first positional argument, skipping flags and the
// values of flags written as "--flag value".
func (p parsedInput) firstArg() string {
	for i, arg := range p.args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if i == 0 {
			return arg
		}
		prev := p.args[i-1]
		if !(strings.HasPrefix(prev, "-") && !strings.Contains(prev, "=")) {
			return arg
		}
	}
	return ""
}

func (p parsedInput) printPrefix(cwd string) string {
	parts := []string{filepath.Base(cwd)}
	if parent := filepath.Dir(cwd); parent != cwd {
		parts[0] = filepath.Base(parent) + "/" + parts[0]
	}
	if p.filePath != "" {
		rel, err := filepath.Rel(cwd, p.filePath)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = p.filePath
		}
		parts = append(parts, rel)
	} else {
		parts = append(parts, p.binary)
	}
	if arg := p.firstArg(); arg != "" {
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// checkBinary fails when the command is neither a builtin, an executable
// file, found on PATH nor resolvable through mise. The error matches both
// apperror.ErrLaunch and apperror.ErrBinaryNotFound.
func (p parsedInput) checkBinary(env map[string]string, cwd string) error {
	if p.filePath != "" || p.binary == "" || shellBuiltins[p.binary] {
		return nil
	}
	if !strings.ContainsRune(p.binary, os.PathSeparator) {
		pathList, ok := env["PATH"]
		if !ok {
			pathList = os.Getenv("PATH")
		}
		if lookPathIn(p.binary, pathList) {
			return nil
		}
		if mise := findInPath("mise", pathList); mise != "" && miseWhich(mise, p.binary, cwd) {
			return nil
		}
	}
	return fmt.Errorf("%w: %w: binary or non-executable '%s' not found. %s",
		apperror.ErrLaunch, apperror.ErrBinaryNotFound, p.binary, installInstructions(p.binary))
}

const miseTimeout = 10 * time.Second

// miseWhich asks mise for binary, first from cwd so local tool versions
// apply, then from the home directory.
func miseWhich(mise, binary, cwd string) bool {
	dirs := []string{cwd}
	if home, err := os.UserHomeDir(); err == nil && home != cwd {
		dirs = append(dirs, home)
	}
	for _, dir := range dirs {
		slog.Warn("resolving binary with mise", "binary", binary, "cwd", dir)
		ctx, cancel := context.WithTimeout(context.Background(), miseTimeout)
		cmd := exec.CommandContext(ctx, mise, "which", binary)
		cmd.Dir = dir
		out, err := cmd.Output()
		cancel()
		if err == nil && strings.TrimSpace(string(out)) != "" {
			return true
		}
	}
	return false
}

func installInstructions(binary string) string {
	return fmt.Sprintf("Please install '%s' using your package manager or download it from https://www.google.com/search?q=install+%s+%s",
		binary, url.QueryEscape(binary), runtime.GOOS)
}

func findInPath(binary, pathList string) string {
	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			dir = "."
		}
		if path := filepath.Join(dir, binary); isExecutable(path) {
			return path
		}
	}
	return ""
}

func lookPathIn(binary, pathList string) bool {
	return findInPath(binary, pathList) != ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// parseInput finds the first simple command in input. Non-literal words
// (expansions, substitutions) end the argument list.
func parseInput(input, cwd string) parsedInput {
	words := commandWords(input)
	if len(words) == 0 || words[0] == "" {
		return parsedInput{}
	}
	first, args := words[0], words[1:]
	if strings.ContainsRune(first, os.PathSeparator) {
		path := first
		if !filepath.IsAbs(path) {
			path = filepath.Join(cwd, path)
		}
		if isExecutable(path) {
			return parsedInput{filePath: path, args: args}
		}
	}
	return parsedInput{binary: first, args: args}
}

func commandWords(input string) []string {
	file, err := syntax.NewParser().Parse(strings.NewReader(input), "")
	if err != nil {
		return strings.Fields(input)
	}

	var words []string
	found := false
	syntax.Walk(file, func(node syntax.Node) bool {
		if found {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		found = true
		for _, w := range call.Args {
			lit := w.Lit()
			if lit == "" {
				lit = unquotedLit(w)
			}
			if lit == "" {
				break
			}
			words = append(words, lit)
		}
		return false
	})
	return words
}

// unquotedLit joins literal and single or double quoted parts of w.
func unquotedLit(w *syntax.Word) string {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return ""
				}
				sb.WriteString(lit.Value)
			}
		default:
			return ""
		}
	}
	return sb.String()
}

// InteractiveShell reports whether a human can answer prompts on stdin.
func InteractiveShell() bool {
	switch strings.ToLower(os.Getenv(EnvForceInteractive)) {
	case "true", "1", "yes":
		return true
	}
	if os.Getenv("CI") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// HostTerminalWidth returns the width of the terminal attached to stdout,
// or DefaultTerminalWidth when stdout is not a terminal.
func HostTerminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return DefaultTerminalWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return DefaultTerminalWidth
	}
	return w
}
