package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	for level, want := range map[Level]string{
		LevelDebug: "debug",
		LevelInfo:  "info",
		LevelWarn:  "warn",
		LevelError: "error",
	} {
		if got := LevelString(level); got != want {
			t.Errorf("LevelString(%v) = %q, want %q", level, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml format")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo {
		t.Errorf("expected info level, got %v", cfg.Level)
	}
	if cfg.Component != "fieldid" {
		t.Errorf("expected component fieldid, got %s", cfg.Component)
	}
	if !strings.Contains(cfg.FilePath, "fieldid") {
		t.Errorf("log path should mention fieldid: %s", cfg.FilePath)
	}
}

func newBufferLogger(t *testing.T, format Format) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelDebug, Format: format, Component: "test", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l, &buf
}

func TestJSONFormatCarriesComponent(t *testing.T) {
	l, buf := newBufferLogger(t, FormatJSON)
	l.Info("pipeline started", "check", "connectivity")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if record["component"] != "test" {
		t.Errorf("expected component test, got %v", record["component"])
	}
	if record["check"] != "connectivity" {
		t.Errorf("expected check attr, got %v", record["check"])
	}
}

func TestRedactsSensitiveAttributes(t *testing.T) {
	l, buf := newBufferLogger(t, FormatText)
	l.Info("submitting", "app_key", "ABCDEFGHIJKL", "client_secret", "s3cr3t", "device_id", "123-abc")

	out := buf.String()
	if strings.Contains(out, "ABCDEFGHIJKL") || strings.Contains(out, "s3cr3t") {
		t.Errorf("sensitive values leaked: %s", out)
	}
	if !strings.Contains(out, "123-abc") {
		t.Errorf("device_id should not be redacted: %s", out)
	}
}

func TestShouldRedact(t *testing.T) {
	for key, want := range map[string]bool{
		"app_key":       true,
		"AppKey":        true,
		"Authorization": true,
		"bearer_token":  true,
		"device_id":     false,
		"message":       false,
	} {
		if got := shouldRedact(key); got != want {
			t.Errorf("shouldRedact(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestWithRequestIDAndComponent(t *testing.T) {
	l, buf := newBufferLogger(t, FormatJSON)
	l.WithComponent("integrity").WithRequestID("run-1").Info("check passed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if record["request_id"] != "run-1" {
		t.Errorf("expected request_id run-1, got %v", record["request_id"])
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-42")
	if got := RequestIDFromContext(ctx); got != "req-42" {
		t.Errorf("expected req-42, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
	//nolint:staticcheck
	if got := RequestIDFromContext(nil); got != "" {
		t.Errorf("expected empty id for nil context, got %q", got)
	}
}

func TestLoggerWithContext(t *testing.T) {
	l, buf := newBufferLogger(t, FormatText)
	l.WithContext(ContextWithRequestID(context.Background(), "ctx-id")).Info("hello")
	if !strings.Contains(buf.String(), "ctx-id") {
		t.Errorf("expected request id in output: %s", buf.String())
	}
}

func TestFileRotatorWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "fieldid.log")

	r, err := NewFileRotator(&Config{FilePath: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("NewFileRotator failed: %v", err)
	}
	if _, err := r.Write([]byte("line one\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "line one\n" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestFileRotatorRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldid.log")

	r, err := NewFileRotator(&Config{FilePath: path, MaxSize: 10, MaxBackups: 5})
	if err != nil {
		t.Fatalf("NewFileRotator failed: %v", err)
	}
	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	r.now = func() time.Time { return day }
	r.opened = day

	r.Write([]byte("before midnight\n"))
	day = day.Add(2 * time.Minute)
	r.Write([]byte("after midnight\n"))
	r.Close()

	files, err := r.Files()
	if err != nil {
		t.Fatalf("Files failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected active + one rotated file, got %v", files)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "after midnight\n" {
		t.Errorf("active file should hold only the new day, got %q", data)
	}
}

func TestLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := New(&Config{Level: LevelInfo, Output: "file", FilePath: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("to file")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "to file") {
		t.Errorf("expected record in file, got %q", data)
	}
}
