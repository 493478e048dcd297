package core

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.LogLevel = "loud"

	if _, err := NewLogger(cfg); err == nil {
		t.Error("expected an error for an unknown log level")
	}
}

func TestNewLogger_FileOutputHasNoColorCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nova.log")
	cfg := &Config{}
	cfg.Logging.LogLevel = "info"
	cfg.Logging.LogFilePath = path

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("error building logger: %v", err)
	}
	logger.Info("starting up")
	_ = logger.Sync()

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("error reading log file: %v", err)
	}
	if !bytes.Contains(contents, []byte("INFO")) {
		t.Errorf("expected an INFO entry in the log file, got %q", contents)
	}
	if bytes.Contains(contents, []byte("\x1b[")) {
		t.Errorf("log file contains terminal color codes: %q", contents)
	}
}
