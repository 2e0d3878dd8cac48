package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// launch runs one attempt: the interpreter becomes the leader of a new
// process group, two pooled readers drain its streams, and the process is
// reaped only after both streams reach EOF.
func (s *Scheduler) launch(run *Run, outputDir, stem string) error {
	cfg := run.cfg

	cmd := exec.Command(s.opts.Interpreter, "-c", cfg.ShellInput)
	cmd.Dir = cfg.Cwd
	cmd.Env = cfg.environ
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if cfg.UserInput {
		cmd.Stdin = s.opts.Stdin
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.opts.Interpreter, err)
	}
	exited := run.setProcess(cmd.Process)
	if run.Killed() {
		// Kill ran between the attempt check and Start and saw no process.
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	run.log.Debug("process started", "pid", cmd.Process.Pid, "attempt", run.Attempt())
	run.push(ProcessStarted{PID: cmd.Process.Pid, Process: cmd.Process})

	readers := []*streamReader{
		s.newStreamReader(run, true, stdout, filepath.Join(outputDir, stem+".stdout.log")),
		s.newStreamReader(run, false, stderr, filepath.Join(outputDir, stem+".stderr.log")),
	}

	var submitErr error
	done := make([]<-chan struct{}, 0, len(readers))
	for _, rd := range readers {
		ch, err := s.pool.Go(rd.readOutput)
		if err != nil {
			// Pool is gone: stop the process and drain inline so Wait can return.
			submitErr = err
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
			inline := make(chan struct{})
			go func(rd *streamReader) {
				defer close(inline)
				rd.readOutput()
			}(rd)
			ch = inline
		}
		done = append(done, ch)
	}
	for _, ch := range done {
		<-ch
	}

	waitErr := cmd.Wait()
	code := exitCodeOf(cmd.ProcessState)
	run.setExit(code, exited)
	run.log.Debug("process exited", "pid", cmd.Process.Pid, "exit_code", code)

	if submitErr != nil {
		return fmt.Errorf("submitting stream readers: %w", submitErr)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return fmt.Errorf("waiting for process: %w", waitErr)
	}
	return nil
}

func (s *Scheduler) newStreamReader(run *Run, isStdout bool, stream io.Reader, logPath string) *streamReader {
	cfg := run.cfg
	echo := s.opts.Stderr
	if isStdout {
		echo = s.opts.Stdout
	}
	return &streamReader{
		isStdout:   isStdout,
		stream:     stream,
		logPath:    logPath,
		decodeANSI: *cfg.ANSIContent,
		logTime:    cfg.IncludeLogTime,
		charMode:   cfg.UserInput,
		echo:       echo,
		push:       run.push,
	}
}

// exitCodeOf returns the exit status, or the negated signal number when the
// process was terminated by a signal.
func exitCodeOf(ps *os.ProcessState) int {
	if ps == nil {
		return -1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return ps.ExitCode()
}
