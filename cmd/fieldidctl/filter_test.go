package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"fieldid/internal/i18n"
	"fieldid/internal/store"
)

func TestBuildFilter(t *testing.T) {
	f, err := buildFilter("  timeout ", "2026-03-01", "2026-03-02", "warning", time.UTC)
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	if f.Search != "timeout" {
		t.Errorf("Search = %q, want %q", f.Search, "timeout")
	}
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !f.Since.Equal(want) {
		t.Errorf("Since = %v, want %v", f.Since, want)
	}
	if want := time.Date(2026, 3, 2, 23, 59, 59, 999_000_000, time.UTC); !f.Until.Equal(want) {
		t.Errorf("Until = %v, want %v", f.Until, want)
	}
	if f.Severity == nil || *f.Severity != store.SeverityWarning {
		t.Errorf("Severity = %v, want Warning", f.Severity)
	}
}

func TestBuildFilterSameDay(t *testing.T) {
	f, err := buildFilter("", "2026-03-01", "2026-03-01", "", time.UTC)
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	if !f.Until.After(f.Since) {
		t.Errorf("single-day range is empty: %v..%v", f.Since, f.Until)
	}
}

func TestBuildFilterErrors(t *testing.T) {
	tests := []struct {
		name         string
		since, until string
		severity     string
		key          string
	}{
		{name: "start only", since: "2026-03-01", key: i18n.EndDateRequired},
		{name: "end only", until: "2026-03-01", key: i18n.StartDateRequired},
		{name: "reversed", since: "2026-03-02", until: "2026-03-01", key: i18n.InvalidDateRange},
		{name: "bad date", since: "03/01/2026", until: "2026-03-02"},
		{name: "bad severity", severity: "fatal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildFilter("", tt.since, tt.until, tt.severity, time.UTC)
			if err == nil {
				t.Fatal("expected error")
			}
			key, ok := filterMessageKey(err)
			if tt.key == "" {
				if ok {
					t.Errorf("unexpected catalog key %q for %v", key, err)
				}
				return
			}
			if key != tt.key {
				t.Errorf("key = %q, want %q", key, tt.key)
			}
		})
	}
}

func sampleEntries() []store.Entry {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return []store.Entry{
		{ID: 2, Severity: store.SeverityError, UserCaused: true, Message: "Unable to connect to API server.", Timestamp: ts},
		{ID: 1, Severity: store.SeveritySuccess, Message: "API server connection successful!", Timestamp: ts.Add(-time.Minute), Online: true},
	}
}

func TestWriteEntriesTable(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEntries(&buf, store.StreamService, sampleEntries(), modeTable, time.UTC); err != nil {
		t.Fatalf("writeEntries: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "ONLINE") {
		t.Errorf("service header lacks ONLINE: %q", lines[0])
	}
	if !strings.Contains(lines[1], "2026-03-01 09:30:00") || !strings.Contains(lines[1], "Error") {
		t.Errorf("unexpected first row: %q", lines[1])
	}
}

func TestWriteEntriesDetails(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEntries(&buf, store.StreamApp, sampleEntries()[:1], modeDetails, time.UTC); err != nil {
		t.Fatalf("writeEntries: %v", err)
	}
	want := "Status: Error\nDate: 2026-03-01 09:30:00\nMessage: Unable to connect to API server.\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteEntriesJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEntries(&buf, store.StreamApp, sampleEntries(), modeJSON, time.UTC); err != nil {
		t.Fatalf("writeEntries: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0]["severity"] != "Error" || got[0]["user_caused"] != true {
		t.Errorf("unexpected entry: %v", got[0])
	}
	if _, ok := got[1]["online"]; ok {
		t.Error("app stream entries should not carry online")
	}
}
