// Package sandbox executes framework-generated shell commands with
// timeouts and bounded output capture.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/RedClaus/TermAi-sub001/internal/config"
	"github.com/RedClaus/TermAi-sub001/internal/logging"
)

// Result is the outcome of one command execution.
type Result struct {
	// Success is false only when the process failed to run at all.
	// A command that ran and exited non-zero still ran.
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`

	// Truncated is set when output exceeded the capture limit.
	Truncated bool `json:"truncated,omitempty"`

	// Killed is set when the timeout or context cancellation ended the
	// process before it finished.
	Killed     bool   `json:"killed,omitempty"`
	KillReason string `json:"killReason,omitempty"`

	Error string `json:"error,omitempty"`
}

// Failed reports whether the command should be treated as a failed step:
// either it could not run, was killed, or exited non-zero.
func (r *Result) Failed() bool {
	return !r.Success || r.Killed || r.ExitCode != 0
}

// Runner executes shell commands in a configured working directory.
type Runner struct {
	workDir        string
	defaultTimeout time.Duration
	maxOutputBytes int64
	allowedEnv     []string
}

// NewRunner builds a Runner from execution config.
func NewRunner(cfg config.ExecutionConfig) *Runner {
	maxOut := cfg.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = 1024 * 1024
	}
	return &Runner{
		workDir:        cfg.WorkingDirectory,
		defaultTimeout: config.ParseDuration(cfg.DefaultTimeout, 30*time.Second),
		maxOutputBytes: maxOut,
		allowedEnv:     cfg.AllowedEnvVars,
	}
}

// WorkDir returns the runner's configured working directory.
func (r *Runner) WorkDir() string { return r.workDir }

// Run executes a shell command string and captures combined output.
// It returns an error only for programmer mistakes (empty command); all
// runtime outcomes, including process-launch failures, land in Result.
func (r *Runner) Run(ctx context.Context, command string) (*Result, error) {
	return r.RunIn(ctx, command, r.workDir)
}

// RunIn executes a command in an explicit working directory.
func (r *Runner) RunIn(ctx context.Context, command, dir string) (*Result, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}

	timer := logging.StartTimer(logging.CategorySandbox, "command execution")
	defer timer.Stop()

	logging.Sandbox("Executing: %s (dir=%s, timeout=%s)", command, dir, r.defaultTimeout)

	execCtx, cancel := context.WithTimeout(ctx, r.defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = r.buildEnvironment()

	var buf bytes.Buffer
	limited := &limitedWriter{w: &buf, max: r.maxOutputBytes}
	cmd.Stdout = limited
	cmd.Stderr = limited

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Output:   buf.String(),
		Duration: time.Since(start),
	}
	if limited.truncated {
		result.Truncated = true
		logging.SandboxWarn("Output truncated: %d bytes discarded", limited.discarded)
	}

	switch {
	case err == nil:
		result.Success = true
		result.ExitCode = 0
		logging.SandboxDebug("Command succeeded in %v", result.Duration)

	case execCtx.Err() == context.DeadlineExceeded:
		result.Success = true // Infrastructure worked, command was killed
		result.Killed = true
		result.ExitCode = -1
		result.KillReason = fmt.Sprintf("timeout after %s", r.defaultTimeout)
		logging.SandboxWarn("Command killed (timeout after %s): %s", r.defaultTimeout, command)

	case execCtx.Err() == context.Canceled:
		result.Success = true
		result.Killed = true
		result.ExitCode = -1
		result.KillReason = "context canceled"
		logging.SandboxDebug("Command canceled: %s", command)

	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.Success = true // Command ran, just returned non-zero
			result.ExitCode = exitErr.ExitCode()
			logging.SandboxDebug("Command exited non-zero: %d", result.ExitCode)
		} else {
			result.Success = false
			result.ExitCode = -1
			result.Error = err.Error()
			logging.SandboxWarn("Command failed to run: %v", err)
		}
	}

	return result, nil
}

// buildEnvironment passes through only the allowed variables.
func (r *Runner) buildEnvironment() []string {
	if len(r.allowedEnv) == 0 {
		return os.Environ()
	}
	env := make([]string, 0, len(r.allowedEnv))
	for _, key := range r.allowedEnv {
		if val := os.Getenv(key); val != "" {
			env = append(env, fmt.Sprintf("%s=%s", key, val))
		}
	}
	return env
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		toWrite := p[:remaining]
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(toWrite)
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
