// Package sandbox runs shell commands and code snippets under host-based
// isolation: a stripped environment, a working-directory allow/deny list,
// and a hard timeout. It is the only place in the codebase that spawns
// processes.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrExecutionTimeout is returned when a command exceeds its deadline.
	ErrExecutionTimeout = errors.New("execution timed out")
	// ErrPathDenied is returned when the working directory is outside the
	// allowed filesystem scope.
	ErrPathDenied = errors.New("filesystem access denied")
)

// DefaultTimeout bounds a single command when the request does not set one.
const DefaultTimeout = 30 * time.Second

// Config holds sandbox policy.
type Config struct {
	AllowedPaths []string
	DeniedPaths  []string
	Timeout      time.Duration
	Logger       zerolog.Logger
}

// ExecuteRequest describes one command to run.
type ExecuteRequest struct {
	Command    string
	Args       []string
	WorkingDir string
	Stdin      []byte
	Env        map[string]string
	Timeout    time.Duration
}

// ExecuteResult is the outcome of one command.
type ExecuteResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Sandbox executes commands under the configured policy.
type Sandbox struct {
	config Config
}

// New creates a sandbox.
func New(config Config) *Sandbox {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Sandbox{config: config}
}

// Execute runs the command and captures its output. A deadline exceeded
// result returns partial output alongside ErrExecutionTimeout.
func (s *Sandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if err := s.checkPath(req.WorkingDir); err != nil {
		return ExecuteResult{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.config.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Command, req.Args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = s.buildEnvironment(req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := ExecuteResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		return result, ErrExecutionTimeout
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A non-zero exit is a result, not an execution failure.
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("failed to run command: %w", err)
		}
	}

	s.config.Logger.Debug().
		Str("command", req.Command).
		Strs("args", req.Args).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Command executed in sandbox")
	return result, nil
}

// RunShell executes a one-line shell script through sh -c.
func (s *Sandbox) RunShell(ctx context.Context, script, workingDir string) (ExecuteResult, error) {
	return s.Execute(ctx, ExecuteRequest{
		Command:    "sh",
		Args:       []string{"-c", script},
		WorkingDir: workingDir,
	})
}

func (s *Sandbox) checkPath(path string) error {
	if path == "" {
		return nil
	}
	clean := filepath.Clean(path)

	for _, denied := range s.config.DeniedPaths {
		if strings.HasPrefix(clean, denied) {
			return fmt.Errorf("%w: %s", ErrPathDenied, path)
		}
	}

	if len(s.config.AllowedPaths) == 0 {
		return nil
	}
	for _, allowed := range s.config.AllowedPaths {
		if strings.HasPrefix(clean, allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPathDenied, path)
}

// buildEnvironment strips the host environment down to a minimal baseline
// plus the explicitly requested variables.
func (s *Sandbox) buildEnvironment(env map[string]string) []string {
	result := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
	}
	for key, value := range env {
		result = append(result, fmt.Sprintf("%s=%s", key, value))
	}
	return result
}
