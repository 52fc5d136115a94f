package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Document is one retrievable unit in the RAG store.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResult pairs a document with its retrieval score.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// RAG is an append-only document list with a lexical token-overlap
// retriever. Persistence is a single JSON file re-read on startup; rich
// full-text search is deliberately out of scope.
type RAG struct {
	mu   sync.Mutex
	path string
	docs []Document
}

// OpenRAG loads (or initializes) the store persisted at path.
func OpenRAG(path string) (*RAG, error) {
	r := &RAG{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read rag store: %w", err)
	}
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r.docs); err != nil {
		return nil, fmt.Errorf("decode rag store: %w", err)
	}
	return r, nil
}

// Add appends doc and persists the store.
func (r *RAG) Add(doc Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
	return r.saveLocked()
}

// Len returns the number of stored documents.
func (r *RAG) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

// Search returns the top-k documents ranked by token-overlap score,
// breaking ties on insertion order. Documents with zero overlap are
// omitted.
func (r *RAG) Search(query string, k int) []SearchResult {
	queryTokens := ragTokenize(query)
	if len(queryTokens) == 0 || k <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	type scored struct {
		result SearchResult
		order  int
	}
	var hits []scored
	for i, doc := range r.docs {
		score := ragOverlap(queryTokens, ragTokenize(doc.Content))
		if score > 0 {
			hits = append(hits, scored{
				result: SearchResult{Document: doc, Score: score},
				order:  i,
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].result.Score != hits[j].result.Score {
			return hits[i].result.Score > hits[j].result.Score
		}
		return hits[i].order < hits[j].order
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = h.result
	}
	return out
}

func (r *RAG) saveLocked() error {
	data, err := json.MarshalIndent(r.docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rag store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create rag dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write rag store: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace rag store: %w", err)
	}
	return nil
}

func ragTokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if f != "" {
			tokens[f] = true
		}
	}
	return tokens
}

func ragOverlap(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for tok := range query {
		if doc[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
