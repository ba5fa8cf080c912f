// Package llm abstracts chat-completion providers behind a single Client
// interface. Providers are keyed by name so the routing layer can pick a
// model first and resolve its backend second.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Request is a provider-neutral completion request.
type Request struct {
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
}

// Message is one turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a provider-neutral completion result.
type Completion struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Client is a chat-completion backend.
type Client interface {
	Provider() string
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Mux routes requests to clients by provider name.
type Mux struct {
	clients map[string]Client
}

// NewMux builds a mux over the given clients.
func NewMux(clients ...Client) *Mux {
	m := &Mux{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		m.clients[c.Provider()] = c
	}
	return m
}

// Client returns the client registered for the provider.
func (m *Mux) Client(provider string) (Client, error) {
	c, ok := m.clients[provider]
	if !ok {
		return nil, fmt.Errorf("no client registered for provider %q", provider)
	}
	return c, nil
}

// Providers lists registered provider names.
func (m *Mux) Providers() []string {
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	return names
}

// IsRetryable reports whether an error is transient enough that another
// attempt, possibly on a different model, makes sense.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, marker := range []string{
		"econnreset", "etimedout", "connection refused", "timeout",
		"429", "rate limit",
		"500", "502", "503", "504", "529", "overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// EstimateTokens gives a rough token count for budgeting before the
// provider reports actual usage. One token per four characters.
func EstimateTokens(messages []Message) int64 {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content)
	}
	return int64((total + 3) / 4)
}
