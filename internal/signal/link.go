package signal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// linkURIPrefix starts the device-link URI signal-cli prints.
const linkURIPrefix = "sgnl://linkdevice"

// Link runs "signal-cli link" to attach this host as a secondary
// device. onURI is called once with the provisioning URI, which the
// caller renders as a QR code. Link returns after the phone scanned
// the code and signal-cli finished, or when ctx is cancelled.
func Link(ctx context.Context, command string, args []string, deviceName string, onURI func(uri string), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	argv := append(append([]string{}, args...), "link", "-n", deviceName)
	cmd := exec.CommandContext(ctx, command, argv...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start signal-cli link: %w", err)
	}
	go drainStderr(stderr, logger)

	found, scanErr := scanLinkOutput(stdout, onURI, logger)
	waitErr := cmd.Wait()

	switch {
	case waitErr != nil:
		return fmt.Errorf("signal-cli link: %w", waitErr)
	case scanErr != nil:
		return fmt.Errorf("read signal-cli output: %w", scanErr)
	case !found:
		return fmt.Errorf("signal-cli link did not print a %s URI", linkURIPrefix)
	}
	return nil
}

// scanLinkOutput reads signal-cli link output, handing the first link
// URI to onURI and logging everything else.
func scanLinkOutput(r io.Reader, onURI func(string), logger *slog.Logger) (bool, error) {
	found := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !found && strings.HasPrefix(line, linkURIPrefix) {
			found = true
			onURI(line)
			continue
		}
		if line != "" {
			logger.Info("signal-cli link", "output", line)
		}
	}
	return found, scanner.Err()
}
