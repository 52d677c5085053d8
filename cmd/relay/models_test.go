package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func ollamaTags(t *testing.T, names ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		models := make([]map[string]string, len(names))
		for i, n := range names {
			models[i] = map[string]string{"name": n}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunModels_Text(t *testing.T) {
	srv := ollamaTags(t, "llama3.2:latest", "mistral:7b")
	path := writeConfig(t, "ollama:\n  url: "+srv.URL+"\nmodel:\n  default: llama3.2\n")

	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-config", path, "models"}); err != nil {
		t.Fatalf("models error = %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "* llama3.2:latest") {
		t.Errorf("configured model not marked:\n%s", got)
	}
	if !strings.Contains(got, "  mistral:7b") {
		t.Errorf("other model missing:\n%s", got)
	}
}

func TestRunModels_JSON(t *testing.T) {
	srv := ollamaTags(t, "llama3.2:latest", "mistral:7b")
	path := writeConfig(t, "ollama:\n  url: "+srv.URL+"\n")

	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-config", path, "-o", "json", "models"}); err != nil {
		t.Fatalf("models error = %v", err)
	}
	var entries []modelEntry
	if err := json.Unmarshal(out.Bytes(), &entries); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	want := []modelEntry{{"llama3.2:latest", true}, {"mistral:7b", false}}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v, want %+v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestRunModels_Empty(t *testing.T) {
	srv := ollamaTags(t)
	path := writeConfig(t, "ollama:\n  url: "+srv.URL+"\n")

	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-config", path, "models"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No models installed") {
		t.Errorf("output = %q", out.String())
	}
}

func TestListModelEntries_BaseName(t *testing.T) {
	entries := listModelEntries([]string{"llama3.2:1b", "llama3.2-vision:latest", "registry:5000/llama3.2"}, "llama3.2:latest")
	want := []bool{true, false, false}
	for i, e := range entries {
		if e.Configured != want[i] {
			t.Errorf("%s configured = %v, want %v", e.Name, e.Configured, want[i])
		}
	}
}
