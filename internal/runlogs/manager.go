package runlogs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const firstCounter = 99

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Dir describes one run output directory.
type Dir struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Counter   int       `json:"counter"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// IsExpired reports whether the directory is older than ttl.
func (d *Dir) IsExpired(ttl time.Duration) bool {
	return ttl > 0 && time.Since(d.CreatedAt) > ttl
}

// Manager allocates numbered output directories under a root, counting
// down from 98 so the newest run sorts first in a directory listing.
type Manager struct {
	root      string
	autoClean bool
	mu        sync.Mutex
}

// NewManager creates a manager rooted at root. When autoClean is set and the
// counter is exhausted, the root is wiped and numbering restarts.
func NewManager(root string, autoClean bool) *Manager {
	return &Manager{root: root, autoClean: autoClean}
}

// Root returns the directory all run logs are placed under.
func (m *Manager) Root() string {
	return m.root
}

// NextDir creates and returns the next NN_<execName> directory.
func (m *Manager) NextDir(execName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return "", fmt.Errorf("creating run logs root: %w", err)
	}

	last, err := m.lowestCounter()
	if err != nil {
		return "", err
	}
	if last == 0 {
		if !m.autoClean {
			return "", fmt.Errorf("run logs directory %s is full, clean it up manually", m.root)
		}
		slog.Warn("run logs counter exhausted, cleaning root", "root", m.root)
		if err := os.RemoveAll(m.root); err != nil {
			return "", fmt.Errorf("cleaning run logs root: %w", err)
		}
		if err := os.MkdirAll(m.root, 0o755); err != nil {
			return "", fmt.Errorf("recreating run logs root: %w", err)
		}
		last = firstCounter + 1
	}

	name := fmt.Sprintf("%02d_%s", last-1, SafeName(execName))
	path := filepath.Join(m.root, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating run log dir: %w", err)
	}
	return path, nil
}

// List returns all numbered directories under the root.
func (m *Manager) List() ([]Dir, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []Dir{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing run logs: %w", err)
	}

	dirs := []Dir{}
	for _, e := range entries {
		counter, ok := parseCounter(e.Name())
		if !e.IsDir() || !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(m.root, e.Name())
		size, _ := DirSize(path)
		dirs = append(dirs, Dir{
			Name:      e.Name(),
			Path:      path,
			Counter:   counter,
			CreatedAt: info.ModTime(),
			SizeBytes: size,
		})
	}
	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].Counter > dirs[j].Counter
	})
	return dirs, nil
}

// Delete removes a run log directory by name.
// Validates path is inside the root to prevent path traversal.
func (m *Manager) Delete(name string) error {
	absPath, err := filepath.Abs(filepath.Join(m.root, name))
	if err != nil {
		return fmt.Errorf("resolving run log path: %w", err)
	}
	absRoot, err := filepath.Abs(m.root)
	if err != nil {
		return fmt.Errorf("resolving root path: %w", err)
	}
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return fmt.Errorf("path traversal attempt: %s is outside run logs root %s", absPath, absRoot)
	}
	return os.RemoveAll(absPath)
}

// TotalSizeBytes returns the size of every numbered directory combined.
func (m *Manager) TotalSizeBytes() int64 {
	dirs, err := m.List()
	if err != nil {
		return 0
	}
	var total int64
	for _, d := range dirs {
		total += d.SizeBytes
	}
	return total
}

func (m *Manager) lowestCounter() (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("reading run logs root: %w", err)
	}
	lowest := firstCounter
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := parseCounter(e.Name()); ok && n < lowest {
			lowest = n
		}
	}
	return lowest, nil
}

// SafeName makes an executable name usable as a path element.
func SafeName(name string) string {
	name = unsafeName.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "run"
	}
	return name
}

// DirSize calculates the total size of a directory recursively.
func DirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return nil // skip files we can't stat
			}
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func parseCounter(name string) (int, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found || prefix == "" {
		return 0, false
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, false
	}
	return n, true
}
