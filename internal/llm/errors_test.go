package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	tests := []struct {
		name string
		err  error
		want Failure
	}{
		{"nil", nil, FailureNone},
		{"dial refused", fmt.Errorf("request failed: %w", refused), FailureRefused},
		{"refused text", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), FailureRefused},
		{"deadline", fmt.Errorf("request failed: %w", context.DeadlineExceeded), FailureTimeout},
		{"404", &APIError{StatusCode: 404, Message: "no such model"}, FailureNotFound},
		{"not found text", &APIError{StatusCode: 500, Message: `model "x" not found`}, FailureNotFound},
		{"server error", &APIError{StatusCode: 500, Message: "out of memory"}, FailureUnknown},
		{"other", errors.New("unexpected EOF"), FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFailureString(t *testing.T) {
	if FailureRefused.String() != "connection refused" {
		t.Errorf("FailureRefused = %q", FailureRefused.String())
	}
	if FailureNotFound.String() != "model not found" {
		t.Errorf("FailureNotFound = %q", FailureNotFound.String())
	}
	if Failure(99).String() != "unknown error" {
		t.Errorf("Failure(99) = %q", Failure(99).String())
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"llama3.2":                     "llama3.2",
		"llama3.2:latest":              "llama3.2",
		"qwen2.5:72b":                  "qwen2.5",
		"localhost:5000/custom":        "localhost:5000/custom",
		"localhost:5000/custom:q4":     "localhost:5000/custom",
		"hf.co/user/model-GGUF:Q4_K_M": "hf.co/user/model-GGUF",
	}
	for in, want := range tests {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}
