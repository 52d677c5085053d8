package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderQR(t *testing.T) {
	var buf bytes.Buffer
	if err := renderQR(&buf, "sgnl://linkdevice?uuid=abc&pub_key=def"); err != nil {
		t.Fatalf("renderQR() error = %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) < 10 {
		t.Errorf("QR code has %d lines, want a full symbol", len(lines))
	}
	if !strings.ContainsAny(buf.String(), "█▀▄") {
		t.Error("QR code output has no block characters")
	}
}
