package shell

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/freema/askshell/internal/apperror"
)

// OutputFormat selects the decoder used by DecodeOutput.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// StdoutOneLine returns stdout with line breaks removed.
func (r *Run) StdoutOneLine() string {
	return strings.TrimSpace(strings.Join(r.StdoutLines(), ""))
}

// StderrOneLine returns stderr with line breaks removed.
func (r *Run) StderrOneLine() string {
	return strings.TrimSpace(strings.Join(r.StderrLines(), ""))
}

// DecodeOutput unmarshals the collected stdout (or stderr) into v. An
// empty stream yields apperror.ErrEmptyOutput.
func (r *Run) DecodeOutput(v any, format OutputFormat, stdout bool) error {
	content := r.Stderr()
	if stdout {
		content = r.Stdout()
	}
	if content == "" {
		return fmt.Errorf("%w: %s of %s", apperror.ErrEmptyOutput, streamName(stdout), r)
	}

	var err error
	switch format {
	case FormatJSON, "":
		err = json.Unmarshal([]byte(content), v)
	case FormatYAML:
		err = yaml.Unmarshal([]byte(content), v)
	default:
		return apperror.Validation("unsupported output format %q", format)
	}
	if err != nil {
		return fmt.Errorf("decoding %s %s: %w", streamName(stdout), format, err)
	}
	return nil
}

// AddOutputCallback calls fn for every line of one stream. Existing lines
// are replayed first unless skipOldLines is set. fn returning true removes
// it. Must not be called from inside a Handler of the same run.
func (r *Run) AddOutputCallback(fn func(line string) bool, isStdout, skipOldLines bool) (remove func()) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	entry := &handlerEntry{h: HandlerFunc(func(_ *Run, ev Event) bool {
		if line, ok := ev.(OutputLine); ok && line.IsStdout == isStdout {
			return fn(line.Text)
		}
		return false
	})}

	r.mu.Lock()
	r.handlers = append(r.handlers, entry)
	existing := r.stderr
	if isStdout {
		existing = r.stdout
	}
	existing = slices.Clone(existing)
	r.mu.Unlock()

	remove = func() {
		r.mu.Lock()
		r.removeHandlerLocked(entry)
		r.mu.Unlock()
	}
	if skipOldLines {
		return remove
	}
	for _, line := range existing {
		if fn(line) {
			remove()
			break
		}
	}
	return remove
}
