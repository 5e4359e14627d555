package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferLogger(level string, jsonFormat bool) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(&Config{Level: level, Component: "test", JSONFormat: jsonFormat})
	l.output = buf
	return l, buf
}

func TestJSONOutput(t *testing.T) {
	l, buf := newBufferLogger("INFO", true)

	l.Info("cache miss", "key", "md:abc", "attempt", 2)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Level != "INFO" || entry.Message != "cache miss" || entry.Component != "test" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["key"] != "md:abc" {
		t.Errorf("expected key field, got %v", entry.Fields)
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger("WARN", true)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("visible")

	lines := strings.Count(buf.String(), "\n")
	if lines != 1 {
		t.Errorf("expected 1 line, got %d: %q", lines, buf.String())
	}
}

func TestErrorArgsSerialized(t *testing.T) {
	l, buf := newBufferLogger("INFO", true)

	l.Error("fetch failed", "error", errors.New("connection refused"))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Fields["error"] != "connection refused" {
		t.Errorf("error should serialize as string, got %v", entry.Fields["error"])
	}
}

func TestWithComponentAndField(t *testing.T) {
	l, buf := newBufferLogger("INFO", true)

	l.WithComponent("quota").WithField("user_id", "u1").Info("limit reached")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Component != "quota" {
		t.Errorf("expected component quota, got %s", entry.Component)
	}
	if entry.Fields["user_id"] != "u1" {
		t.Errorf("expected bound field, got %v", entry.Fields)
	}
}

func TestTextOutput(t *testing.T) {
	l, buf := newBufferLogger("INFO", false)

	l.Info("started", "port", 8080)

	out := buf.String()
	if !strings.Contains(out, "[INFO ]") || !strings.Contains(out, "started") || !strings.Contains(out, "port=8080") {
		t.Errorf("unexpected text output: %q", out)
	}
}
