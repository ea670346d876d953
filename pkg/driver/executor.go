package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// Cap on captured command output (1MB)
	maxOutputSize = 1 * 1024 * 1024

	defaultCommandTimeout = 30 * time.Minute
)

// CommandRunner runs one external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) (string, error)
}

// CommandError describes an external command that failed to start, exited
// non-zero, or timed out.
type CommandError struct {
	Argv     []string
	Output   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed (exit code %d): %v", strings.Join(e.Argv, " "), e.ExitCode, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += " (output: " + clip(out, 200) + ")"
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// execRunner runs commands with os/exec.
type execRunner struct {
	timeout time.Duration
}

// NewCommandRunner returns a runner that bounds every command by timeout.
func NewCommandRunner(timeout time.Duration) CommandRunner {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &execRunner{timeout: timeout}
}

func (e *execRunner) Run(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 || argv[0] == "" {
		return "", &CommandError{Argv: argv, ExitCode: -1, Err: errors.New("empty command")}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)

	buf := limitedBuffer{limit: maxOutputSize}
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	output := buf.String()
	if runErr == nil {
		return output, nil
	}

	err := runErr
	if ctx.Err() == nil && execCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("timed out after %v: %w", e.timeout, context.DeadlineExceeded)
	} else if ctx.Err() != nil {
		err = ctx.Err()
	}
	return output, &CommandError{
		Argv:     argv,
		Output:   output,
		ExitCode: getExitCode(runErr),
		Err:      err,
	}
}

// getExitCode extracts the exit code from an exec error
func getExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// limitedBuffer drops writes past limit so a chatty command cannot exhaust memory.
type limitedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit > 0 && b.Len() >= b.limit {
		return len(p), nil
	}
	remaining := b.limit - b.Len()
	if b.limit > 0 && remaining < len(p) {
		_, err := b.Buffer.Write(p[:remaining])
		return len(p), err
	}
	return b.Buffer.Write(p)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
