package shell

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
)

type collected struct {
	mu     sync.Mutex
	events []Event
}

func (c *collected) push(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collected) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.events {
		if l, ok := ev.(OutputLine); ok {
			out = append(out, l.Text)
		}
	}
	return out
}

func TestReadLinesDecodesANSIInLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "x.stdout.log")
	c := &collected{}
	r := &streamReader{
		isStdout:   true,
		stream:     strings.NewReader("\x1b[31mred\x1b[0m\nplain\r\nlast"),
		logPath:    logPath,
		decodeANSI: true,
		push:       c.push,
	}
	r.readOutput()

	got := c.lines()
	want := []string{"\x1b[31mred\x1b[0m", "plain", "last"}
	if !slices.Equal(got, want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	if _, ok := c.events[0].(StreamStarted); !ok {
		t.Fatalf("first event should be StreamStarted, got %T", c.events[0])
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "red\nplain\nlast\n" {
		t.Fatalf("unexpected log content %q", data)
	}
}

func TestReadLinesWritesRawLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "x.stderr.log")
	c := &collected{}
	r := &streamReader{
		stream:  strings.NewReader("\x1b[1mbold\x1b[0m\n"),
		logPath: logPath,
		push:    c.push,
	}
	r.readOutput()
	if got := c.lines(); len(got) != 1 || got[0] != "\x1b[1mbold\x1b[0m" {
		t.Fatalf("expected raw ANSI line, got %q", got)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "\x1b[1mbold\x1b[0m\n" {
		t.Fatalf("expected log written as received, got %q", data)
	}
}

func TestReadLinesLongLine(t *testing.T) {
	long := strings.Repeat("a", 256*1024)
	c := &collected{}
	r := &streamReader{
		stream:  strings.NewReader(long + "\nshort\n"),
		logPath: filepath.Join(t.TempDir(), "x.log"),
		push:    c.push,
	}
	r.readOutput()
	got := c.lines()
	if len(got) != 2 || got[0] != long || got[1] != "short" {
		t.Fatalf("long line was split or lost: %d lines", len(got))
	}
}

func TestReadCharsEchoesAndFlushesPartial(t *testing.T) {
	echo := &syncBuffer{}
	c := &collected{}
	r := &streamReader{
		isStdout: true,
		stream:   strings.NewReader("line one\nEnter name: "),
		logPath:  filepath.Join(t.TempDir(), "x.log"),
		charMode: true,
		echo:     echo,
		push:     c.push,
	}
	r.readOutput()

	if echo.String() != "line one\nEnter name: " {
		t.Fatalf("echo mismatch: %q", echo.String())
	}
	got := c.lines()
	if len(got) != 2 || got[1] != "Enter name: " {
		t.Fatalf("expected trailing partial line flushed, got %q", got)
	}
}

func TestReadOutputBadLogPath(t *testing.T) {
	c := &collected{}
	r := &streamReader{
		stream:  strings.NewReader("x\n"),
		logPath: filepath.Join(t.TempDir(), "missing", "dir", "x.log"),
		push:    c.push,
	}
	r.readOutput()

	var sawErr bool
	for _, ev := range c.events {
		if _, ok := ev.(StreamReadError); ok {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatal("expected StreamReadError for unwritable log path")
	}
}
