package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/enrich/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("json to console", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closer, err := New(config.LoggingCfg{Level: "info", Format: "json"}, Options{Output: &buf})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer closer.Close()

		logger.Debug("hidden")
		logger.Info("shown", "job", "j1")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("got %d lines, want 1: %s", len(lines), buf.String())
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
			t.Fatalf("not JSON: %v", err)
		}
		if rec["msg"] != "shown" || rec["job"] != "j1" {
			t.Errorf("record = %v", rec)
		}
	})

	t.Run("level flag wins", func(t *testing.T) {
		var buf bytes.Buffer
		logger, _, err := New(config.LoggingCfg{Level: "error"}, Options{Level: "debug", Output: &buf})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		logger.Debug("visible")
		if !strings.Contains(buf.String(), "visible") {
			t.Error("debug record missing")
		}
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "enrich.log")
		var buf bytes.Buffer
		logger, closer, err := New(config.LoggingCfg{File: path, MaxSizeMB: 1}, Options{Output: &buf})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		logger.Info("to file")
		closer.Close()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("log file not written: %v", err)
		}
		if !strings.Contains(string(data), "to file") || !strings.Contains(buf.String(), "to file") {
			t.Error("record should reach both file and console")
		}
	})

	t.Run("bad level", func(t *testing.T) {
		if _, _, err := New(config.LoggingCfg{Level: "loud"}, Options{}); err == nil {
			t.Error("expected error")
		}
	})
}
