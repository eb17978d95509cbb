package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "run.log")

	l := New(Options{Console: &console, File: file})
	l.Info("rewrote batch", zap.Int("rows", 42))
	l.Debug("hidden at info level")
	_ = l.Sync()

	out := console.String()
	if !strings.Contains(out, "rewrote batch") || !strings.Contains(out, "42") {
		t.Errorf("console output = %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug entry written at info level")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"rows":42`) {
		t.Errorf("file output = %q", data)
	}
}

func TestNewDebug(t *testing.T) {
	var console bytes.Buffer
	l := New(Options{Debug: true, Console: &console})
	l.Debug("visible")
	_ = l.Sync()
	if !strings.Contains(console.String(), "visible") {
		t.Errorf("debug entry missing: %q", console.String())
	}
}
