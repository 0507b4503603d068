package service

import (
	"sync"

	"github.com/amplifyco/novaagent/internal/domain/entity"
)

const patternStoreCap = 20

// PatternStoreDoc is the persisted, capped pattern list (patterns.json).
type PatternStoreDoc struct {
	Patterns []entity.Pattern `json:"patterns"`
}

// PatternStore holds the pattern detector's (C15) output, atomically
// rewritten each detection cycle and capped at 20 entries (§4.14).
type PatternStore struct {
	mu    sync.Mutex
	doc   *PatternStoreDoc
	store OutboxStore
}

// NewPatternStore loads (or initializes) the pattern store.
func NewPatternStore(store OutboxStore) (*PatternStore, error) {
	doc := &PatternStoreDoc{}
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	return &PatternStore{doc: doc, store: store}, nil
}

// Replace atomically rewrites the full pattern list, capping it at 20 —
// the detector's output replaces the whole document each cycle rather
// than merging, since a pattern's confidence/frequency is recomputed from
// scratch every time.
func (s *PatternStore) Replace(patterns []entity.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(patterns) > patternStoreCap {
		patterns = patterns[:patternStoreCap]
	}
	s.doc.Patterns = patterns
	return s.store.Save(s.doc)
}

// All returns the current pattern list.
func (s *PatternStore) All() []entity.Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.Pattern{}, s.doc.Patterns...)
}
