package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToRotatingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "relay.log")

	l, err := New("odds-relay", "prod", Options{File: file})
	if err != nil {
		t.Fatalf("New() = %v; want nil", err)
	}
	l.Info("upstream connected")
	_ = l.Sync()

	b, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("os.ReadFile() failed: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "upstream connected") || !strings.Contains(out, `"service":"odds-relay"`) || !strings.Contains(out, `"env":"prod"`) {
		t.Fatalf("log file missing entry or default fields: %q", out)
	}
}
