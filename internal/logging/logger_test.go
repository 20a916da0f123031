package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToProjectLogFile(t *testing.T) {
	projectDir := t.TempDir()
	logger, err := New(projectDir, "info", "text")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.WithComponent("pipeline").Info("layer started", "layer", 0)
	logger.Debug("hidden")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	want := filepath.Join(projectDir, ".cdm", "logs", FileName)
	if logger.Path() != want {
		t.Fatalf("unexpected path %s", logger.Path())
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "layer started") || !strings.Contains(text, "component=pipeline") {
		t.Fatalf("missing record: %s", text)
	}
	if strings.Contains(text, "hidden") {
		t.Fatalf("debug record written at info level: %s", text)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(t.TempDir(), "chatty", "text"); err == nil {
		t.Fatalf("expected level error")
	}
}

func TestJSONFormatCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, slog.LevelInfo, "json")
	logger.WithRunID("run-1").WithError(errors.New("boom")).Warn("deploy failed")
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v (%s)", err, buf.String())
	}
	if record["run_id"] != "run-1" || record["error"] != "boom" || record["level"] != "WARN" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestWithErrorNil(t *testing.T) {
	logger := Discard()
	if logger.WithError(nil) != logger {
		t.Fatalf("nil error should return the same logger")
	}
}
