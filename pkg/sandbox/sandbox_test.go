package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop()})
	ctx := context.Background()

	t.Run("should capture stdout and exit code", func(t *testing.T) {
		result, err := s.Execute(ctx, ExecuteRequest{
			Command: "echo",
			Args:    []string{"hello"},
		})

		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(result.Stdout))
		assert.Zero(t, result.ExitCode)
	})

	t.Run("should report non-zero exits as results", func(t *testing.T) {
		result, err := s.Execute(ctx, ExecuteRequest{
			Command: "sh",
			Args:    []string{"-c", "exit 3"},
		})

		require.NoError(t, err)
		assert.Equal(t, 3, result.ExitCode)
	})

	t.Run("should time out slow commands", func(t *testing.T) {
		result, err := s.Execute(ctx, ExecuteRequest{
			Command: "sleep",
			Args:    []string{"5"},
			Timeout: 100 * time.Millisecond,
		})

		assert.ErrorIs(t, err, ErrExecutionTimeout)
		assert.Equal(t, -1, result.ExitCode)
	})

	t.Run("should pass stdin through", func(t *testing.T) {
		result, err := s.Execute(ctx, ExecuteRequest{
			Command: "cat",
			Stdin:   []byte("piped"),
		})

		require.NoError(t, err)
		assert.Equal(t, "piped", string(result.Stdout))
	})

	t.Run("should strip the host environment", func(t *testing.T) {
		t.Setenv("SECRET_TOKEN", "leaky")

		result, err := s.Execute(ctx, ExecuteRequest{
			Command: "sh",
			Args:    []string{"-c", "echo ${SECRET_TOKEN:-clean}"},
		})

		require.NoError(t, err)
		assert.Equal(t, "clean\n", string(result.Stdout))
	})
}

func TestPathPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject denied working directories", func(t *testing.T) {
		s := New(Config{DeniedPaths: []string{"/etc"}, Logger: zerolog.Nop()})

		_, err := s.Execute(ctx, ExecuteRequest{Command: "ls", WorkingDir: "/etc/ssl"})

		assert.ErrorIs(t, err, ErrPathDenied)
	})

	t.Run("should restrict to allowed paths when configured", func(t *testing.T) {
		s := New(Config{AllowedPaths: []string{"/tmp"}, Logger: zerolog.Nop()})

		_, err := s.Execute(ctx, ExecuteRequest{Command: "ls", WorkingDir: "/var"})
		assert.ErrorIs(t, err, ErrPathDenied)

		_, err = s.Execute(ctx, ExecuteRequest{Command: "ls", WorkingDir: "/tmp"})
		assert.NoError(t, err)
	})
}

func TestRunShell(t *testing.T) {
	t.Run("should run one-line scripts", func(t *testing.T) {
		s := New(Config{Logger: zerolog.Nop()})

		result, err := s.RunShell(context.Background(), "printf '%s' ok", "")

		require.NoError(t, err)
		assert.Equal(t, "ok", string(result.Stdout))
	})
}
