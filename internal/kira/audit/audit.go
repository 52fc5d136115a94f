// Package audit appends one JSON line per agent decision and CLI command to
// a daily log file, audit-YYYY-MM-DD.jsonl (UTC day).
//
// Each line is written with a single O_APPEND write well below the
// filesystem's atomic-append size, so concurrent appenders cannot interleave
// partial lines.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kirahq/kira/common/trace"
)

// Entry is one audit line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
	Result    string         `json:"result"`
}

// Logger writes audit entries. Safe for concurrent use.
type Logger struct {
	dir string

	mu       sync.Mutex
	file     *os.File
	fileDate string // UTC day the open file belongs to
}

// New returns a Logger writing under dir (created on first write).
func New(dir string) *Logger {
	return &Logger{dir: dir}
}

// Dir returns the audit directory.
func (l *Logger) Dir() string { return l.dir }

// Log appends one entry, stamped now, carrying the trace ID from ctx.
func (l *Logger) Log(ctx context.Context, command string, args map[string]any, result string) error {
	return l.write(Entry{
		Timestamp: time.Now().UTC(),
		TraceID:   trace.FromContext(ctx),
		Command:   command,
		Args:      args,
		Result:    result,
	})
}

func (l *Logger) write(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	day := e.Timestamp.Format("2006-01-02")
	if l.file == nil || l.fileDate != day {
		if err := l.rotateLocked(day); err != nil {
			return err
		}
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// rotateLocked opens the file for the given UTC day, closing the previous
// one. Caller holds l.mu.
func (l *Logger) rotateLocked(day string) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	path := filepath.Join(l.dir, "audit-"+day+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", path, err)
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	l.fileDate = day
	return nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadDay returns the entries logged on the given UTC day (for tests and
// the doctor report).
func ReadDay(dir string, day time.Time) ([]Entry, error) {
	path := filepath.Join(dir, "audit-"+day.UTC().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	var entries []Entry
	for line := range splitLines(data) {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("corrupt audit line: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func splitLines(data []byte) func(yield func([]byte) bool) {
	return func(yield func([]byte) bool) {
		start := 0
		for i, b := range data {
			if b == '\n' {
				if i > start {
					if !yield(data[start:i]) {
						return
					}
				}
				start = i + 1
			}
		}
		if start < len(data) {
			yield(data[start:])
		}
	}
}
