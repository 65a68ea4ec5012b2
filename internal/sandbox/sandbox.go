// Package sandbox runs generated scripts in a confined subprocess: private
// working directory, scrubbed environment, wall-clock timeout and output
// caps. It is meant for code the orchestrator generated itself, not for
// arbitrary untrusted input.
package sandbox

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/secondsky/mcp-orchestrator/internal/errors"
)

// KillSwitchEnv disables the sandbox regardless of configuration when set
// to a non-empty value. The environment always wins over Settings.Enabled.
const KillSwitchEnv = "MCPORCH_SANDBOX_DISABLE"

// killWaitDelay bounds how long Wait blocks on lingering pipe readers
// after the process group has been killed.
const killWaitDelay = time.Second

// Settings configure the runner.
type Settings struct {
	// Enabled must be set explicitly; the sandbox is off by default.
	Enabled bool `json:"enabled"`

	// Interpreter is the script runtime binary. Defaults to "node".
	Interpreter string `json:"interpreter,omitempty"`

	// InterpreterArgs are passed before the script path.
	InterpreterArgs []string `json:"interpreterArgs,omitempty"`

	// Timeout is the wall-clock limit per run. Defaults to 30s.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxOutputBytes caps captured stdout and stderr, each.
	// Defaults to 1MiB.
	MaxOutputBytes int `json:"maxOutputBytes,omitempty"`

	// EnvAllowlist names the only host environment variables visible to
	// the script. PATH, HOME, TMPDIR are always included.
	EnvAllowlist []string `json:"envAllowlist,omitempty"`

	// Env sets extra variables inside the sandbox.
	Env map[string]string `json:"env,omitempty"`
}

// DefaultSettings returns the disabled-by-default configuration.
func DefaultSettings() Settings {
	return Settings{
		Enabled:        false,
		Interpreter:    "node",
		Timeout:        30 * time.Second,
		MaxOutputBytes: 1 << 20,
	}
}

// RunResult reports one script run. A non-zero exit is not a Go error;
// callers inspect the result.
type RunResult struct {
	// RunID is the ULID assigned to this run, also the audit row id.
	RunID string `json:"runId"`

	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`

	// StdoutTruncated and StderrTruncated flag capped captures.
	StdoutTruncated bool `json:"stdoutTruncated,omitempty"`
	StderrTruncated bool `json:"stderrTruncated,omitempty"`

	// TimedOut is set when the wall-clock limit killed the process.
	TimedOut bool `json:"timedOut,omitempty"`

	Duration time.Duration `json:"duration"`
}

// alwaysAllowedEnv is passed through from the host unconditionally.
var alwaysAllowedEnv = []string{"PATH", "HOME", "TMPDIR"}

// Runner executes scripts under the configured limits.
type Runner struct {
	log      *slog.Logger
	settings Settings

	// lookupEnv is a test hook over os.LookupEnv.
	lookupEnv func(string) (string, bool)
}

// NewRunner creates a runner. Defaults are applied for unset limits.
func NewRunner(log *slog.Logger, settings Settings) *Runner {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if settings.Interpreter == "" {
		settings.Interpreter = "node"
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}

	if settings.MaxOutputBytes <= 0 {
		settings.MaxOutputBytes = 1 << 20
	}

	return &Runner{
		log:       log.With("component", "sandbox"),
		settings:  settings,
		lookupEnv: os.LookupEnv,
	}
}

// Enabled reports whether a run would be permitted right now.
func (r *Runner) Enabled() bool {
	if v, ok := r.lookupEnv(KillSwitchEnv); ok && v != "" {
		return false
	}

	return r.settings.Enabled
}

// Run writes the script to a private temp dir and executes it.
//
// Returns ErrSandboxDisabled when the sandbox is off. Interpreter lookup
// failures return InterpreterNotFoundError. Everything else, including
// non-zero exits and timeouts, is reported through RunResult.
func (r *Runner) Run(ctx context.Context, script string) (*RunResult, error) {
	if !r.Enabled() {
		return nil, errors.ErrSandboxDisabled
	}

	interpreter, err := exec.LookPath(r.settings.Interpreter)
	if err != nil {
		return nil, &errors.InterpreterNotFoundError{
			Interpreter:   r.settings.Interpreter,
			SearchedPaths: []string{"$PATH"},
		}
	}

	runID := ulid.Make().String()

	dir, err := os.MkdirTemp("", "mcporch-sandbox-")
	if err != nil {
		return nil, fmt.Errorf("create sandbox directory: %w", err)
	}
	defer os.RemoveAll(dir)

	scriptPath := filepath.Join(dir, "script")
	if err := os.WriteFile(scriptPath, []byte(script), 0o600); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.settings.Timeout)
	defer cancel()

	args := append(append([]string(nil), r.settings.InterpreterArgs...), scriptPath)

	//nolint:gosec // G204: running the configured interpreter is the point.
	cmd := exec.CommandContext(runCtx, interpreter, args...)
	cmd.Dir = dir
	cmd.Env = r.buildEnv(dir)

	// The interpreter gets its own process group, and cancellation kills
	// the whole group. Without this, a forked child inheriting the output
	// pipes keeps cmd.Run blocked past the deadline. WaitDelay is the
	// backstop for anything that survives the group kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay

	stdout := newLimitWriter(r.settings.MaxOutputBytes)
	stderr := newLimitWriter(r.settings.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.log.Info("sandbox run starting", "run_id", runID, "interpreter", interpreter)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &RunResult{
		RunID:           runID,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Duration:        elapsed,
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	switch {
	case runCtx.Err() != nil:
		// Our deadline fired, not the caller's.
		result.TimedOut = true
		result.ExitCode = -1

	case runErr != nil:
		var exitErr *exec.ExitError

		switch {
		case stderrors.As(runErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case stderrors.Is(runErr, exec.ErrWaitDelay):
			// The interpreter exited but an orphaned child held the
			// output pipes until WaitDelay expired.
			result.ExitCode = cmd.ProcessState.ExitCode()
		default:
			return nil, fmt.Errorf("run script: %w", runErr)
		}
	}

	r.log.Info("sandbox run finished",
		"run_id", runID, "exit_code", result.ExitCode, "timed_out", result.TimedOut, "duration", elapsed)

	return result, nil
}

// buildEnv assembles the scrubbed environment: allowlisted host variables,
// configured extras, and TMPDIR pinned inside the sandbox dir.
func (r *Runner) buildEnv(dir string) []string {
	var env []string

	allow := append(append([]string(nil), alwaysAllowedEnv...), r.settings.EnvAllowlist...)
	for _, name := range allow {
		if v, ok := r.lookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}

	for k, v := range r.settings.Env {
		env = append(env, k+"="+v)
	}

	env = append(env, "TMPDIR="+dir)

	return env
}
