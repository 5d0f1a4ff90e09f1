package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := NewLogger(t.TempDir())
	if err := l.SetKey(testKey()); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	return l
}

func TestNewLogger(t *testing.T) {
	tmpDir := t.TempDir()
	l := NewLogger(tmpDir)

	if l.Path() != tmpDir {
		t.Errorf("expected path %s, got %s", tmpDir, l.Path())
	}
	if l.prevHash != genesis {
		t.Errorf("expected prevHash %q, got %s", genesis, l.prevHash)
	}
	if l.sessionID == "" {
		t.Error("expected non-empty sessionID")
	}
}

func TestRecordWithoutKey(t *testing.T) {
	l := NewLogger(t.TempDir())
	if err := l.Record(Entry{Operation: OpAccountSave}); !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("expected ErrKeyNotSet, got %v", err)
	}
}

func TestRecordAndVerify(t *testing.T) {
	l := newTestLogger(t)

	entries := []Entry{
		{Operation: OpStoreMigrate, Source: SourceCLI, Context: map[string]string{"from": "1", "to": "3"}},
		{Operation: OpAccountSave, Source: SourceCLI, AccountID: "acc-1", Provider: "claude"},
		{Operation: OpAccountDelete, Source: SourceCLI, AccountID: "acc-1", Err: errors.New("store: disk full")},
	}
	for _, e := range entries {
		if err := l.Record(e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.Records != 3 {
		t.Errorf("Verify() = %+v, want valid with 3 records", result)
	}

	events, err := l.ListEvents(2)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	last := events[1]
	if last.Result != ResultError || last.Error == "" {
		t.Errorf("last event = %+v, want error result", last)
	}
	if last.Account == "" || last.Account == "acc-1" {
		t.Errorf("account id should be stored as an HMAC, got %q", last.Account)
	}
}

func TestChainSurvivesReopen(t *testing.T) {
	l := newTestLogger(t)
	if err := l.Record(Entry{Operation: OpAccountSave, AccountID: "a"}); err != nil {
		t.Fatal(err)
	}

	reopened := NewLogger(l.Path())
	if err := reopened.SetKey(testKey()); err != nil {
		t.Fatal(err)
	}
	if err := reopened.Record(Entry{Operation: OpAccountDelete, AccountID: "a"}); err != nil {
		t.Fatal(err)
	}

	result, err := reopened.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.Records != 2 {
		t.Errorf("Verify() after reopen = %+v", result)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := newTestLogger(t)
	for i := 0; i < 3; i++ {
		if err := l.Record(Entry{Operation: OpAccountSave, Provider: "claude"}); err != nil {
			t.Fatal(err)
		}
	}

	files, err := filepath.Glob(filepath.Join(l.Path(), "*.jsonl"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one log file, got %v (%v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"provider":"claude"`, `"provider":"codex"`, 1)
	if err := os.WriteFile(files[0], []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Error("expected tampering to be detected")
	}
}

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}
