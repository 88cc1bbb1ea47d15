// Package llm provides the model clients that back the decision loop.
// Every provider speaks plain chat completions: the loop asks for a JSON
// object and interprets it itself, so no provider-native tool calling is
// involved.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, opts *Options) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
