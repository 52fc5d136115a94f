// Package pipeline contains the three thin orchestrators: inbox ingest,
// periodic sync, and rollup generation. Pipelines scan a source, publish
// events, and retry on failure; they never parse content or perform domain
// logic. Every event emitted during one run shares a single trace ID, and
// each run brackets itself with pipeline_started / pipeline_completed JSONL
// entries.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunRecord is one line of the pipeline run log.
type RunRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	Event          string    `json:"event"` // pipeline_started | pipeline_completed
	Pipeline       string    `json:"pipeline"`
	TraceID        string    `json:"trace_id"`
	ItemsScanned   int       `json:"items_scanned"`
	ItemsProcessed int       `json:"items_processed"`
	ItemsFailed    int       `json:"items_failed"`
	ElapsedMS      int64     `json:"elapsed_ms,omitempty"`
}

// RunLog appends run records to <vault>/artifacts/logs/pipeline.log.
type RunLog struct {
	mu   sync.Mutex
	path string
}

// NewRunLog returns a RunLog writing to path.
func NewRunLog(path string) *RunLog {
	return &RunLog{path: path}
}

// Append writes one record as a single JSON line.
func (l *RunLog) Append(rec RunRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append run record: %w", err)
	}
	return nil
}
