// Package clarify stores clarification requests: inbox items the capture
// path could not turn into an entity with enough confidence. Items are
// durable at <vault>/.kira/clarifications.json, survive restart, and stay
// ordered by creation.
package clarify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirahq/kira/internal/kira/kerrors"
)

// Status of a clarification item.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusRejected = "rejected"
)

// Item is one clarification request.
type Item struct {
	ClarificationID       string         `json:"clarification_id"`
	SourceEventID         string         `json:"source_event_id"`
	ExtractedType         string         `json:"extracted_type"`
	ExtractedData         map[string]any `json:"extracted_data"`
	Confidence            float64        `json:"confidence"`
	CreatedTS             time.Time      `json:"created_ts"`
	Status                string         `json:"status"`
	SuggestedAlternatives []string       `json:"suggested_alternatives,omitempty"`
}

// Store is the durable clarification list.
type Store struct {
	mu    sync.Mutex
	path  string
	items []Item
}

// Open loads (or initializes) the store persisted at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read clarifications: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.items); err != nil {
		return nil, fmt.Errorf("decode clarifications: %w", err)
	}
	return s, nil
}

// Add appends a pending item and returns its generated ID.
func (s *Store) Add(sourceEventID, extractedType string, data map[string]any, confidence float64, alternatives []string) (*Item, error) {
	item := Item{
		ClarificationID:       "clr_" + uuid.NewString(),
		SourceEventID:         sourceEventID,
		ExtractedType:         extractedType,
		ExtractedData:         data,
		Confidence:            confidence,
		CreatedTS:             time.Now().UTC(),
		Status:                StatusPending,
		SuggestedAlternatives: alternatives,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	if err := s.saveLocked(); err != nil {
		s.items = s.items[:len(s.items)-1]
		return nil, err
	}
	return &item, nil
}

// Resolve marks the item resolved.
func (s *Store) Resolve(id string) error {
	return s.setStatus(id, StatusResolved)
}

// Reject marks the item rejected.
func (s *Store) Reject(id string) error {
	return s.setStatus(id, StatusRejected)
}

func (s *Store) setStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ClarificationID != id {
			continue
		}
		if s.items[i].Status != StatusPending {
			return kerrors.Validation("clarification %s is already %s", id, s.items[i].Status)
		}
		prev := s.items[i].Status
		s.items[i].Status = status
		if err := s.saveLocked(); err != nil {
			s.items[i].Status = prev
			return err
		}
		return nil
	}
	return kerrors.NotFound("clarification %s not found", id)
}

// Pending returns the pending items in creation order.
func (s *Store) Pending() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Item
	for _, item := range s.items {
		if item.Status == StatusPending {
			out = append(out, item)
		}
	}
	return out
}

// All returns every item in creation order.
func (s *Store) All() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode clarifications: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return kerrors.IO(err, "create clarifications dir")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return kerrors.IO(err, "write clarifications")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return kerrors.IO(err, "replace clarifications")
	}
	return nil
}
