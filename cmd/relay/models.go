package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/nugget/signal-relay/internal/config"
	"github.com/nugget/signal-relay/internal/llm"
)

// modelEntry is one line of the models listing.
type modelEntry struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// runModels lists the models installed in Ollama, marking those that
// satisfy the configured default.
func runModels(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	client := llm.NewOllamaClient(cfg.Ollama.URL, config.NewLogger(stdout, level, cfg.LogFormat))

	listCtx, cancel := context.WithTimeout(ctx, cfg.Ollama.ListTimeout())
	defer cancel()

	names, err := client.ListModels(listCtx)
	if err != nil {
		return fmt.Errorf("list models from %s (%s): %w", cfg.Ollama.URL, llm.Classify(err), err)
	}

	entries := listModelEntries(names, cfg.Model.Default)
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintf(stdout, "No models installed. %s will be pulled on first start.\n", cfg.Model.Default)
		return nil
	}
	for _, e := range entries {
		mark := " "
		if e.Configured {
			mark = "*"
		}
		fmt.Fprintf(stdout, "%s %s\n", mark, e.Name)
	}
	return nil
}

func listModelEntries(names []string, configured string) []modelEntry {
	want := llm.BaseName(configured)
	entries := make([]modelEntry, len(names))
	for i, n := range names {
		entries[i] = modelEntry{Name: n, Configured: llm.BaseName(n) == want}
	}
	return entries
}
