// Package rootshell runs shell scripts with superuser privilege and captures
// their output. It is the only place in olinkyd that spawns privileged
// processes; every other component receives a Runner explicitly.
package rootshell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultBinary is the escalation binary used when Shell.Binary is empty.
	DefaultBinary = "su"

	// DefaultTimeout bounds a single invocation when the caller passes zero.
	DefaultTimeout = 15 * time.Second

	// ExitExecutorFailure marks a result where the command could not be run
	// at all (missing binary, spawn failure, timeout or cancellation).
	ExitExecutorFailure = -1

	// maxLineSize caps a single captured output line.
	maxLineSize = 1024 * 1024
)

// Result is the outcome of one privileged invocation.
type Result struct {
	ExitCode int      `json:"exit_code"`
	Stdout   []string `json:"stdout"`
	Stderr   []string `json:"stderr"`
}

// OK reports whether the command ran and exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// ExecutorFailed reports whether the executor could not run the command.
// This is distinct from a command that ran and failed.
func (r Result) ExecutorFailed() bool {
	return r.ExitCode == ExitExecutorFailure
}

// FirstLine returns the first stdout line with surrounding space trimmed.
func (r Result) FirstLine() string {
	if len(r.Stdout) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Stdout[0])
}

// ErrorOutput returns stderr joined by newlines, falling back to stdout when
// stderr is blank.
func (r Result) ErrorOutput() string {
	out := strings.TrimSpace(strings.Join(r.Stderr, "\n"))
	if out == "" {
		out = strings.TrimSpace(strings.Join(r.Stdout, "\n"))
	}
	return out
}

func failure(format string, args ...any) Result {
	return Result{
		ExitCode: ExitExecutorFailure,
		Stderr:   []string{fmt.Sprintf(format, args...)},
	}
}

// Runner executes a shell script with elevated privilege.
type Runner interface {
	RunScript(ctx context.Context, script string, timeout time.Duration) Result
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, script string, timeout time.Duration) Result

// RunScript calls f.
func (f RunnerFunc) RunScript(ctx context.Context, script string, timeout time.Duration) Result {
	return f(ctx, script, timeout)
}

// Shell is the process-wide channel used to escalate privilege. Scripts run
// as `Binary Args... <script>`, by default `su -c <script>`.
type Shell struct {
	// Binary is the escalation binary, "su" when empty. Use "sh" when the
	// daemon already runs as root.
	Binary string

	// Args precede the script, "-c" when empty.
	Args []string

	// Env overrides the child environment when non-nil.
	Env []string

	// KillGrace bounds how long output draining may continue after the
	// process was killed on timeout.
	KillGrace time.Duration
}

// New returns a Shell escalating through the given binary.
func New(binary string) *Shell {
	return &Shell{Binary: binary}
}

func (s *Shell) binary() string {
	if s.Binary == "" {
		return DefaultBinary
	}
	return s.Binary
}

func (s *Shell) args() []string {
	if len(s.Args) == 0 {
		return []string{"-c"}
	}
	return s.Args
}

// RunScript runs script and waits for it within timeout. Stdout and stderr
// are captured separately. It never returns an error: executor failures are
// reported with ExitCode -1 and a stderr line describing the cause.
func (s *Shell) RunScript(ctx context.Context, script string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, s.args()...), script)
	cmd := exec.CommandContext(ctx, s.binary(), args...)
	if s.Env != nil {
		cmd.Env = s.Env
	}

	// exec copies each of these in its own goroutine, so a full stderr pipe
	// never blocks stdout and vice versa.
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	grace := s.KillGrace
	if grace <= 0 {
		grace = time.Second
	}
	cmd.WaitDelay = grace
	setProcessGroup(cmd)

	started := time.Now()
	err := cmd.Run()

	log := logrus.WithFields(logrus.Fields{
		"binary":   s.binary(),
		"duration": time.Since(started).Round(time.Millisecond),
	})

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			log.Warn("Privileged command timed out")
			return failure("timed out after %s", timeout)
		}
		log.Warn("Privileged command canceled")
		return failure("canceled: %v", ctxErr)
	}

	res := Result{
		Stdout: splitLines(stdout.Bytes()),
		Stderr: splitLines(stderr.Bytes()),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			log.WithError(err).Warn("Unable to run privileged command")
			return failure("unable to run %s: %v", s.binary(), err)
		}
		res.ExitCode = exitCode(exitErr)
	}

	log.WithField("exit_code", res.ExitCode).Debug("Privileged command finished")
	return res
}

// RunCommand escapes every argument and runs the joined command line.
func (s *Shell) RunCommand(ctx context.Context, timeout time.Duration, argv ...string) Result {
	return RunCommand(ctx, s, timeout, argv...)
}

// IsRootAvailable reports whether scripts run as uid 0.
func (s *Shell) IsRootAvailable(ctx context.Context, timeout time.Duration) bool {
	return IsRootAvailable(ctx, s, timeout)
}

// FileExists reports whether path exists as seen by the privileged shell.
func (s *Shell) FileExists(ctx context.Context, path string, timeout time.Duration) bool {
	return FileExists(ctx, s, path, timeout)
}

func exitCode(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
