package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nugget/signal-relay/internal/config"
	signalcli "github.com/nugget/signal-relay/internal/signal"
)

// runLink attaches signal-cli to an existing phone as a secondary
// device, printing the provisioning URI as a terminal QR code.
func runLink(ctx context.Context, stdout io.Writer, configPath, deviceName string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(stdout, level, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	onURI := func(uri string) {
		if err := renderQR(stdout, uri); err != nil {
			logger.Warn("could not render QR code", "error", err)
		}
		fmt.Fprintln(stdout, uri)
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Scan with Signal on your phone: Settings > Linked devices > Link new device.")
	}

	if err := signalcli.Link(ctx, cfg.Signal.Command, cfg.Signal.Args, deviceName, onURI, logger); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Linked as %q. Set signal.account in config.yaml and run: relay serve\n", deviceName)
	return nil
}

// renderQR writes uri as a QR code drawn with half-block characters.
func renderQR(w io.Writer, uri string) error {
	q, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encode QR: %w", err)
	}
	_, err = io.WriteString(w, q.ToSmallString(false))
	return err
}
