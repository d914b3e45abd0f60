package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("warn", "text", &buf)
	t.Cleanup(func() { defaultLogger = nil })

	Info("dropped %d", 1)
	Warn("kept %d", 2)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] kept 2") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("debug", "json", &buf)
	t.Cleanup(func() { defaultLogger = nil })

	Debug("tick %d delivered to %d subscribers", 3, 4)

	var entry map[string]string
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["level"] != "debug" {
		t.Errorf("level: got %q, want debug", entry["level"])
	}
	if entry["msg"] != "tick 3 delivered to 4 subscribers" {
		t.Errorf("msg: got %q", entry["msg"])
	}
	if entry["time"] == "" {
		t.Error("time missing")
	}
}

func TestUninitializedLoggerIsSilent(t *testing.T) {
	defaultLogger = nil
	Info("no panic")
	Error("no panic either")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warn":    WarnLevel,
		"error":   ErrorLevel,
		"verbose": InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
