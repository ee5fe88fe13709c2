// Package toolchain runs the external compiler, linker, packer and make
// executables as opaque processes.
package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Command is one external process invocation.
type Command struct {
	Name         string // label used in logs and errors, e.g. "compiler"
	Path         string
	Args         []string
	Dir          string
	OnStdoutLine func(line string) // called from the runner goroutine, in order
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Result is what a finished process reported.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner starts a process and waits for it. A non-zero exit is returned as
// a *ToolError together with the captured streams.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) { return f(ctx, cmd) }

// ToolError is an external tool failure.
type ToolError struct {
	Tool     string
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Tool)
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if line := firstLine(e.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ExecRunner runs commands with os/exec. Cancelling ctx kills the process.
type ExecRunner struct {
	// WaitDelay bounds how long Wait blocks on output pipes after the
	// process was killed.
	WaitDelay time.Duration
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stderr = &stderr
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, &ToolError{Tool: c.Name, Command: c.String(), ExitCode: -1, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, &ToolError{Tool: c.Name, Command: c.String(), ExitCode: -1, Err: err}
	}

	sc := bufio.NewScanner(pipe)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	sc.Split(scanLines)
	for sc.Scan() {
		line := sc.Text()
		stdout.WriteString(line)
		stdout.WriteByte('\n')
		if c.OnStdoutLine != nil {
			c.OnStdoutLine(line)
		}
	}
	// keep whatever the scanner could not tokenise
	_, _ = io.Copy(&stdout, pipe)

	waitErr := cmd.Wait()
	res := Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s interrupted: %w", c.Name, ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			res.ExitCode = -1
		}
		return res, &ToolError{
			Tool:     c.Name,
			Command:  c.String(),
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Err:      waitErr,
		}
	}
	return res, nil
}

// scanLines splits on \n, \r\n and bare \r so carriage-return progress
// updates arrive as separate lines.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if !atEOF {
				return 0, nil, nil // need one more byte to see \r\n
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
