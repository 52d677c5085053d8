package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/signal-relay/internal/defaults"
)

// runInit prepares a working directory: a data directory and the
// example config. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing signal-relay in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// The config may hold MQTT credentials.
	configPath := filepath.Join(dir, "config.yaml")
	written, err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600)
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(w, "  ✓ %s\n", configPath)
	} else {
		fmt.Fprintf(w, "  - %s (exists, left unchanged)\n", configPath)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set signal.account in config.yaml, then run: relay link")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, reporting whether it wrote.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
