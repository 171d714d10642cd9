package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONL appends one JSON object per event to a session log file.
type JSONL struct {
	mu   sync.Mutex
	f    *os.File
	now  func() time.Time
	path string
}

// NewJSONL opens a timestamped session log under dir, creating the directory
// if needed.
func NewJSONL(dir string) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir %s: %w", dir, err)
	}
	name := time.Now().Format("drive_20060102_150405.jsonl")
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	return &JSONL{f: f, now: time.Now, path: path}, nil
}

// Path returns the log file path.
func (l *JSONL) Path() string { return l.path }

// Event writes one record: {"ts": ..., "event": name, ...fields}.
func (l *JSONL) Event(name string, fields Fields) {
	rec := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		rec[k] = v
	}
	rec["ts"] = l.now().UnixNano()
	rec["event"] = name

	data, err := json.Marshal(rec)
	if err != nil {
		reportSinkError("jsonl", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		reportSinkError("jsonl", err)
	}
}

// Close closes the log file.
func (l *JSONL) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
