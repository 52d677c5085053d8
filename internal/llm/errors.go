package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/nugget/signal-relay/internal/httpkit"
)

// APIError is a non-success reply from Ollama. Message carries the
// server's "error" field when present, otherwise the raw body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ollama API error %d: %s", e.StatusCode, e.Message)
}

// Failure is the category of an inference-service error. Each
// category maps to its own user-facing reply.
type Failure int

const (
	// FailureNone means the call succeeded.
	FailureNone Failure = iota
	// FailureRefused means nothing is listening at the Ollama URL.
	FailureRefused
	// FailureNotFound means the requested model is not installed.
	FailureNotFound
	// FailureTimeout means the call exceeded its deadline.
	FailureTimeout
	// FailureUnknown covers everything else.
	FailureUnknown
)

// String returns a short human-readable reason.
func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "ok"
	case FailureRefused:
		return "connection refused"
	case FailureNotFound:
		return "model not found"
	case FailureTimeout:
		return "timed out"
	default:
		return "unknown error"
	}
}

// Classify maps an error from the Ollama client to a Failure.
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}

	if httpkit.IsConnRefused(err) || strings.Contains(err.Error(), "connection refused") {
		return FailureRefused
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return FailureNotFound
	}
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return FailureNotFound
	}

	return FailureUnknown
}
