package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLogAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := logger.Log("BookingResult", "s-1", map[string]any{"success": true}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := logger.Log("LockAcquired", "s-1", nil); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Event != "BookingResult" || entries[0].SessionID != "s-1" {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
	if entries[1].Event != "LockAcquired" {
		t.Fatalf("entries[1] = %+v", entries[1])
	}
}

func TestReadEntriesToleratesPartialLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := logger.Log("Heartbeat", "s-1", nil); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-write: append a truncated JSON fragment with
	// no trailing newline.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(`{"timestamp":"2026-01-01T00:00:00Z","event":"Boo`); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1 (partial last line must be skipped)", len(entries))
	}
	if entries[0].Event != "Heartbeat" {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
}

func TestLogAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := logger.Log("Heartbeat", "s-1", nil); err == nil {
		t.Fatal("expected error logging after Close")
	}
}
