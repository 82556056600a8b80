package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "test.log")

	log, err := NewLogger(LoggerConfig{
		Level:    "debug",
		Format:   "json",
		FilePath: path,
		MaxSize:  1,
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", log.GetLevel())
	}

	WithFileOperation(log, "photo.png", "compress").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("Expected log file to contain the entry")
	}
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		config LoggerConfig
	}{
		{"bad level", LoggerConfig{Level: "loud"}},
		{"bad format", LoggerConfig{Level: "info", Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLogger(tt.config); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
