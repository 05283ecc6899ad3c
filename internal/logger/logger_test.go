package logger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func fileLogger(t *testing.T, level string) (*Logger, string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "bot.log")
	log, err := New(&Config{
		Level:   level,
		LogFile: logFile,
		Console: false,
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return log, logFile
}

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	var lines []map[string]interface{}
	for _, raw := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if raw == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", raw)
		}
		lines = append(lines, entry)
	}
	return lines
}

func TestNewWritesJSONToFile(t *testing.T) {
	log, path := fileLogger(t, "info")

	log.Info("session started", zap.String("session_id", "s-1"))
	if err := log.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	entry := lines[0]
	if entry["msg"] != "session started" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want capitalized INFO", entry["level"])
	}
	if entry["session_id"] != "s-1" {
		t.Errorf("session_id = %v", entry["session_id"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp key missing")
	}
	if _, ok := entry["caller"]; !ok {
		t.Error("caller missing")
	}
}

func TestLevelFiltersLowerEntries(t *testing.T) {
	log, path := fileLogger(t, "warn")

	log.Info("too quiet")
	log.Warn("loud enough")
	_ = log.Sync()

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want only the warning", len(lines))
	}
	if lines[0]["msg"] != "loud enough" {
		t.Errorf("msg = %v", lines[0]["msg"])
	}
}

func TestDevelopmentForcesDebug(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "bot.log")
	log, err := New(&Config{
		Level:       "info",
		LogFile:     logFile,
		Console:     false,
		Development: true,
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	log.Debug("debug visible in development")
	_ = log.Sync()

	if lines := readLines(t, logFile); len(lines) != 1 {
		t.Errorf("lines = %d, want debug entry", len(lines))
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "chatty", LogFile: "x.log"})
	if err == nil {
		t.Error("unknown level should fail")
	}
}

func TestNewRequiresAnOutput(t *testing.T) {
	_, err := New(&Config{Level: "info", Console: false, LogFile: ""})
	if err == nil {
		t.Error("no outputs should fail")
	}
}

func TestWithSessionScopesEntries(t *testing.T) {
	log, path := fileLogger(t, "info")

	log.WithSession("sess-42").Info("cycle done")
	_ = log.Sync()

	lines := readLines(t, path)
	if len(lines) != 1 || lines[0]["session_id"] != "sess-42" {
		t.Errorf("lines = %+v, want session_id sess-42", lines)
	}
}

func TestWithOperationAddsCorrelationID(t *testing.T) {
	log, path := fileLogger(t, "info")

	log.WithOperation("close_all").Info("sweep finished")
	_ = log.Sync()

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	if lines[0]["operation"] != "close_all" {
		t.Errorf("operation = %v", lines[0]["operation"])
	}
	if id, ok := lines[0]["correlation_id"].(string); !ok || id == "" {
		t.Error("correlation_id missing")
	}
}

func TestTrackPerformanceLogsDuration(t *testing.T) {
	log, path := fileLogger(t, "debug")

	end := log.TrackPerformance("refresh_positions")
	end()
	_ = log.Sync()

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want start and completion", len(lines))
	}
	done := lines[1]
	if done["msg"] != "Operation completed" {
		t.Errorf("msg = %v", done["msg"])
	}
	if done["operation"] != "refresh_positions" {
		t.Errorf("operation = %v", done["operation"])
	}
	if _, ok := done["duration_ms"].(float64); !ok {
		t.Error("duration_ms missing")
	}
}

func TestLogErrorAttachesError(t *testing.T) {
	log, path := fileLogger(t, "info")

	log.LogError("venue call failed", errors.New("connection refused"), zap.String("op", "open"))
	_ = log.Sync()

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	if lines[0]["error"] != "connection refused" {
		t.Errorf("error = %v", lines[0]["error"])
	}
	if lines[0]["op"] != "open" {
		t.Errorf("op = %v", lines[0]["op"])
	}
	if lines[0]["level"] != "ERROR" {
		t.Errorf("level = %v", lines[0]["level"])
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" || cfg.LogFile == "" || !cfg.Console {
		t.Errorf("default config = %+v", cfg)
	}
}
