package signal

import (
	"log/slog"
	"strings"
	"testing"
)

func TestScanLinkOutput(t *testing.T) {
	out := strings.Join([]string{
		"",
		"sgnl://linkdevice?uuid=abc123&pub_key=BdR%2F",
		"sgnl://linkdevice?uuid=second",
		"Associated with: +15551234567",
	}, "\n")

	var uris []string
	found, err := scanLinkOutput(strings.NewReader(out), func(u string) { uris = append(uris, u) }, slog.Default())
	if err != nil {
		t.Fatalf("scanLinkOutput: %v", err)
	}
	if !found {
		t.Fatal("found = false")
	}
	if len(uris) != 1 || uris[0] != "sgnl://linkdevice?uuid=abc123&pub_key=BdR%2F" {
		t.Errorf("uris = %v, want only the first link URI", uris)
	}
}

func TestScanLinkOutput_NoURI(t *testing.T) {
	found, err := scanLinkOutput(strings.NewReader("User is not registered.\n"), func(string) {
		t.Error("onURI called without a URI")
	}, slog.Default())
	if err != nil || found {
		t.Errorf("found=%v err=%v, want false/nil", found, err)
	}
}
