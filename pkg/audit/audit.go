// Package audit records vault mutations in an append-only JSONL log protected
// by an HMAC chain, so deleted or edited records are detectable.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Operation types
const (
	OpAccountSave   = "account.save"
	OpAccountDelete = "account.delete"
	OpStoreMigrate  = "store.migrate"
)

// Source identifies where the operation originated
const (
	SourceCLI       = "cli"
	SourceScheduler = "scheduler"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const (
	genesis      = "genesis"
	metaFileName = "audit.meta"
	hkdfInfo     = "aipulse-audit-log-v1"
)

// ErrKeyNotSet is returned when logging before SetKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision

	Operation string `json:"op"`
	Source    string `json:"source"`
	Session   string `json:"session"`
	// Account is the HMAC of the account id, never the id itself
	Account  string `json:"account,omitempty"`
	Provider string `json:"provider,omitempty"`

	Result string `json:"result"`
	Error  string `json:"error,omitempty"`

	Context map[string]string `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Entry is what callers hand to Record.
type Entry struct {
	Operation string
	Source    string
	AccountID string
	Provider  string
	Err       error
	Context   map[string]string
}

// Logger writes chained audit events to monthly files under its directory.
type Logger struct {
	path      string
	mu        sync.Mutex
	hmacKey   []byte
	sequence  int64
	prevHash  string
	sessionID string
	now       func() time.Time
}

// NewLogger creates a logger writing under path. SetKey must be called
// before Record.
func NewLogger(path string) *Logger {
	return &Logger{
		path:      path,
		prevHash:  genesis,
		sessionID: randomHex(16),
		now:       time.Now,
	}
}

// Path returns the audit directory.
func (l *Logger) Path() string {
	return l.path
}

// SetKey derives the HMAC key from a machine key with HKDF-SHA256 and loads
// the persisted chain state.
func (l *Logger) SetKey(machineKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := make([]byte, 32)
	if _, err := hkdf.New(sha256.New, machineKey, nil, []byte(hkdfInfo)).Read(key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKey = key

	if err := l.loadChainState(); err != nil {
		// First run
		l.sequence = 0
		l.prevHash = genesis
	}
	return nil
}

// Record appends e to the log.
func (l *Logger) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	event := Event{
		Version:   1,
		ID:        newEventID(l.now()),
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Operation: e.Operation,
		Source:    e.Source,
		Session:   l.sessionID,
		Provider:  e.Provider,
		Result:    ResultSuccess,
		Context:   e.Context,
	}
	if e.AccountID != "" {
		event.Account = l.mac([]byte(e.AccountID))
	}
	if e.Err != nil {
		event.Result = ResultError
		event.Error = e.Err.Error()
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.mac(recordData(&event))

	if err := l.writeEvent(&event); err != nil {
		l.sequence--
		return err
	}
	l.prevHash = event.Chain.HMAC
	return l.saveChainState()
}

func (l *Logger) mac(data []byte) string {
	m := hmac.New(sha256.New, l.hmacKey)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// recordData is the canonical byte form covered by the chain HMAC.
func recordData(e *Event) []byte {
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var ctx strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&ctx, "%s=%s|", k, e.Context[k])
	}

	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		e.Version, e.ID, e.Timestamp, e.Operation, e.Source, e.Session,
		e.Account, e.Provider, e.Result, e.Error, ctx.String(),
		e.Chain.Sequence, e.Chain.PrevHash))
}

func (l *Logger) writeEvent(e *Event) error {
	name := filepath.Join(l.path, l.now().UTC().Format("2006-01")+".jsonl")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, metaFileName))
	if err != nil {
		return err
	}
	var st chainState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	l.sequence = st.Sequence
	l.prevHash = st.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, metaFileName), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	Valid   bool     `json:"valid"`
	Records int      `json:"records"`
	Errors  []string `json:"errors,omitempty"`
}

// Verify walks every log file in order and checks sequence, linkage and HMAC.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesis
	var expectedSeq int64 = 1

	for i := range events {
		e := &events[i]
		result.Records++

		if e.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d", e.ID, expectedSeq, e.Chain.Sequence))
		}
		if e.Chain.PrevHash != expectedPrev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", e.ID))
		}
		if !hmac.Equal([]byte(e.Chain.HMAC), []byte(l.mac(recordData(e)))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", e.ID))
		}

		expectedPrev = e.Chain.HMAC
		expectedSeq = e.Chain.Sequence + 1
	}
	return result, nil
}

// ListEvents returns up to limit most recent events, newest last.
func (l *Logger) ListEvents(limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl sorts chronologically
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var e Event
			if err := json.Unmarshal(line, &e); err != nil {
				return nil, fmt.Errorf("audit: corrupted record in %s: %w", file, err)
			}
			events = append(events, e)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("audit: failed to scan %s: %w", file, err)
		}
	}
	return events, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// newEventID builds a time-sortable id: 48-bit millisecond timestamp followed
// by 80 random bits.
func newEventID(now time.Time) string {
	ts := now.UnixMilli()
	id := make([]byte, 16)
	for i := 5; i >= 0; i-- {
		id[i] = byte(ts & 0xFF)
		ts >>= 8
	}
	if _, err := rand.Read(id[6:]); err != nil {
		return fmt.Sprintf("%d", now.UnixNano())
	}
	return hex.EncodeToString(id)
}
