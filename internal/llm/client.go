// Package llm talks to the Ollama inference service and classifies
// its failures.
package llm

import "context"

// Client is the inference-service surface the relay needs.
type Client interface {
	// Chat runs a non-streaming chat completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ListModels returns the identifiers of installed models
	// (e.g. "llama3.2:latest").
	ListModels(ctx context.Context) ([]string, error)

	// Pull downloads a model and returns once the download finished.
	Pull(ctx context.Context, model string) error

	// Ping checks if the service is reachable.
	Ping(ctx context.Context) error
}
