package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/akaravas/hypetrader/internal/domain"
)

// maxErrorEntries bounds the error ring. Old entries fall off the front.
const maxErrorEntries = 100

// ErrorEntry is one recorded error.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Op        string    `json:"op"`
	Message   string    `json:"message"`
	Fatal     bool      `json:"fatal"`
}

// ErrorLog keeps the last maxErrorEntries errors in memory and mirrors
// them to a JSON file so they survive restarts.
type ErrorLog struct {
	mu      sync.Mutex
	path    string
	entries []ErrorEntry
}

// NewErrorLog creates an error log persisted at path. Existing entries
// are loaded; a missing or unreadable file starts empty.
func NewErrorLog(path string) *ErrorLog {
	el := &ErrorLog{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return el
	}
	var entries []ErrorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return el
	}
	if len(entries) > maxErrorEntries {
		entries = entries[len(entries)-maxErrorEntries:]
	}
	el.entries = entries
	return el
}

// Record appends an error to the ring and persists it. The op string
// identifies where the error surfaced when the error itself carries no
// operation.
func (el *ErrorLog) Record(op string, err error) {
	if err == nil {
		return
	}

	entry := ErrorEntry{
		Timestamp: time.Now().UTC(),
		Kind:      domain.KindOf(err).String(),
		Op:        op,
		Message:   err.Error(),
		Fatal:     domain.IsFatal(err),
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	el.entries = append(el.entries, entry)
	if len(el.entries) > maxErrorEntries {
		el.entries = el.entries[len(el.entries)-maxErrorEntries:]
	}
	el.flushLocked()
}

// Recent returns up to limit entries, newest first.
func (el *ErrorLog) Recent(limit int) []ErrorEntry {
	el.mu.Lock()
	defer el.mu.Unlock()

	n := len(el.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ErrorEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, el.entries[i])
	}
	return out
}

// Len returns the number of recorded entries.
func (el *ErrorLog) Len() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.entries)
}

func (el *ErrorLog) flushLocked() {
	if el.path == "" {
		return
	}
	data, err := json.MarshalIndent(el.entries, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(el.path), 0755); err != nil {
		return
	}
	tmp := fmt.Sprintf("%s.tmp", el.path)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return
	}
	os.Rename(tmp, el.path)
}
