package shell

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// streamReader copies one process stream into a log file and the run's
// event queue.
type streamReader struct {
	isStdout   bool
	stream     io.Reader
	logPath    string
	decodeANSI bool // log escape sequences as plain text
	logTime    bool
	charMode   bool
	echo       io.Writer // character mode only
	push       func(Event)
}

// readOutput reads until end of stream. It never panics; failures are
// reported as StreamReadError and the remaining input is discarded so the
// process is not blocked on a full pipe.
func (s *streamReader) readOutput() {
	defer func() {
		if rec := recover(); rec != nil {
			s.push(StreamReadError{IsStdout: s.isStdout, Err: fmt.Errorf("reader panic: %v\n%s", rec, debug.Stack())})
			_, _ = io.Copy(io.Discard, s.stream)
		}
	}()

	f, err := os.Create(s.logPath)
	if err != nil {
		s.push(StreamStarted{IsStdout: s.isStdout})
		s.push(StreamReadError{IsStdout: s.isStdout, Err: fmt.Errorf("creating log file: %w", err)})
		_, _ = io.Copy(io.Discard, s.stream)
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	s.push(StreamStarted{IsStdout: s.isStdout, LogPath: s.logPath})

	if s.charMode {
		err = s.readChars(w)
	} else {
		err = s.readLines(w)
	}
	if err != nil && !streamClosed(err) {
		s.push(StreamReadError{IsStdout: s.isStdout, Err: err})
		_, _ = io.Copy(io.Discard, s.stream)
	}
}

func (s *streamReader) readLines(w *bufio.Writer) error {
	br := bufio.NewReaderSize(s.stream, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			s.emit(w, strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"))
		}
		if err != nil {
			return err
		}
	}
}

// readChars echoes output as soon as it arrives so prompts without a
// trailing newline are visible, while still emitting whole lines.
func (s *streamReader) readChars(w *bufio.Writer) error {
	buf := make([]byte, 1024)
	var pending bytes.Buffer
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if s.echo != nil {
				_, _ = s.echo.Write(chunk)
			}
			for len(chunk) > 0 {
				i := bytes.IndexByte(chunk, '\n')
				if i < 0 {
					pending.Write(chunk)
					break
				}
				pending.Write(chunk[:i])
				s.emit(w, strings.TrimSuffix(pending.String(), "\r"))
				pending.Reset()
				chunk = chunk[i+1:]
			}
		}
		if err != nil {
			if pending.Len() > 0 {
				s.emit(w, pending.String())
			}
			return err
		}
	}
}

// emit writes one line to the log and hands the raw line to the run.
func (s *streamReader) emit(w *bufio.Writer, raw string) {
	logged := raw
	if s.decodeANSI {
		logged = ansi.Strip(raw)
	}
	if s.logTime {
		_, _ = w.WriteString(time.Now().Format("[15:04:05] "))
	}
	_, _ = w.WriteString(logged)
	_ = w.WriteByte('\n')
	_ = w.Flush()
	s.push(OutputLine{IsStdout: s.isStdout, Text: raw})
}

// streamClosed reports errors that mean the stream simply ended.
func streamClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, fs.ErrClosed) || errors.Is(err, os.ErrClosed)
}
