package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMux(t *testing.T) {
	t.Run("should resolve clients by provider name", func(t *testing.T) {
		mux := NewMux(
			NewScriptedClient("openai", ScriptedStep{Content: "a"}),
			NewScriptedClient("anthropic", ScriptedStep{Content: "b"}),
		)

		c, err := mux.Client("anthropic")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", c.Provider())
		assert.Len(t, mux.Providers(), 2)
	})

	t.Run("should fail on unknown providers", func(t *testing.T) {
		mux := NewMux()

		_, err := mux.Client("gemini")

		assert.Error(t, err)
	})
}

func TestScriptedClient(t *testing.T) {
	t.Run("should play steps in order and repeat the last", func(t *testing.T) {
		c := NewScriptedClient("openai",
			ScriptedStep{Content: "first"},
			ScriptedStep{Content: "second"},
		)

		ctx := context.Background()
		req := Request{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}}

		for _, want := range []string{"first", "second", "second"} {
			got, err := c.Complete(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, want, got.Content)
		}
		assert.Len(t, c.Calls(), 3)
	})

	t.Run("should surface scripted errors", func(t *testing.T) {
		boom := errors.New("429 rate limit")
		c := NewScriptedClient("openai", ScriptedStep{Err: boom})

		_, err := c.Complete(context.Background(), Request{Model: "gpt-4o"})

		assert.Equal(t, boom, err)
	})

	t.Run("should respect context cancellation", func(t *testing.T) {
		c := NewScriptedClient("openai", ScriptedStep{Content: "never"})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Complete(ctx, Request{Model: "gpt-4o"})

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsRetryable(t *testing.T) {
	t.Run("should retry transient provider failures", func(t *testing.T) {
		for _, msg := range []string{
			"429 Too Many Requests",
			"rate limit exceeded",
			"503 Service Unavailable",
			"api overloaded",
			"dial tcp: connection refused",
		} {
			assert.True(t, IsRetryable(errors.New(msg)), msg)
		}
	})

	t.Run("should not retry permanent failures", func(t *testing.T) {
		assert.False(t, IsRetryable(nil))
		assert.False(t, IsRetryable(errors.New("401 Unauthorized")))
		assert.False(t, IsRetryable(errors.New("invalid request body")))
	})
}

func TestEstimateTokens(t *testing.T) {
	t.Run("should estimate one token per four characters", func(t *testing.T) {
		msgs := []Message{{Role: "user", Content: "12345678"}}

		assert.Equal(t, int64(2), EstimateTokens(msgs))
	})
}
