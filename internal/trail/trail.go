// Package trail writes an append-only, hash-chained JSON-lines log of
// investigation activity — chain of custody for the correlation runs
// themselves, not for the evidence they produce.
package trail

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType constants for trail entries.
const (
	EventRunStart        = "RUN_START"
	EventStage           = "STAGE"
	EventFinding         = "FINDING"
	EventBundleFinalized = "BUNDLE_FINALIZED"
	EventRunFailed       = "RUN_FAILED"
)

// Entry is a single trail record. EntryHash chains each entry to its
// predecessor: SHA256(prevHash + json_without_hash).
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	IncidentID string    `json:"incident_id,omitempty"`
	EventType  string    `json:"event_type"`
	Stage      string    `json:"stage,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Count      int       `json:"count,omitempty"`
	EntryHash  string    `json:"entry_hash"`
}

// Logger appends hash-chained entries to a JSON-lines file.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
}

// New opens (or creates) the trail file at path. The directory is created
// with 0700, the file with 0600. Existing entries are read to recover the
// last hash so the chain continues across runs.
func New(path string) (*Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("trail: create dir %s: %w", dir, err)
	}

	prevHash := ""
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		lines := splitLines(data)
		for i := len(lines) - 1; i >= 0; i-- {
			if len(lines[i]) == 0 {
				continue
			}
			var entry Entry
			if json.Unmarshal(lines[i], &entry) == nil {
				prevHash = entry.EntryHash
			}
			break
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("trail: open %s: %w", path, err)
	}
	return &Logger{file: f, prevHash: prevHash}, nil
}

// Log writes an entry, computing its chain hash. A zero timestamp is
// filled with the current UTC time.
func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	entry.EntryHash = ""
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("trail: marshal: %w", err)
	}

	h := sha256.Sum256(append([]byte(l.prevHash), raw...))
	entry.EntryHash = fmt.Sprintf("%x", h)
	l.prevHash = entry.EntryHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("trail: marshal final: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("trail: write: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// VerifyChain re-reads a trail file and checks every entry's chain hash.
// Returns the number of valid entries and the first broken index, or -1
// when the whole chain holds.
func VerifyChain(path string) (entries int, broken int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, -1, fmt.Errorf("trail: read %s: %w", path, err)
	}

	prevHash := ""
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return entries, entries, nil
		}

		want := entry.EntryHash
		entry.EntryHash = ""
		raw, err := json.Marshal(entry)
		if err != nil {
			return entries, entries, nil
		}
		h := sha256.Sum256(append([]byte(prevHash), raw...))
		if fmt.Sprintf("%x", h) != want {
			return entries, entries, nil
		}
		prevHash = want
		entries++
	}
	return entries, -1, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
