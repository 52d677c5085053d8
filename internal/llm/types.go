package llm

import (
	"strings"
	"time"
)

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are sampling parameters.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ChatRequest is the body of POST /api/chat. Stream is always false;
// the relay waits for the whole reply.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// ChatResponse is the decoded reply from the chat endpoint.
type ChatResponse struct {
	Model   string
	Message Message
	Done    bool

	InputTokens  int
	OutputTokens int

	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
}

// BaseName strips a trailing ":tag" from a model identifier, so
// "llama3.2:latest" and "llama3.2" compare equal.
func BaseName(model string) string {
	i := strings.LastIndex(model, ":")
	if i < 0 || strings.Contains(model[i+1:], "/") {
		// No tag, or the colon belongs to a registry host:port.
		return model
	}
	return model[:i]
}
