package service

import (
	"sync"

	"github.com/amplifyco/novaagent/internal/domain/entity"
)

const templateStoreCap = 50

// TaskTemplate is a reusable (goal, subtask plan) pair saved when a task's
// critic score clears the reuse threshold (§4.12 step 6).
type TaskTemplate struct {
	Goal     string           `json:"goal"`
	Subtasks []*entity.Subtask `json:"subtasks"`
	Score    float64          `json:"score"`
}

// TemplateStoreDoc is the persisted template library.
type TemplateStoreDoc struct {
	Templates []TaskTemplate `json:"templates"`
}

// TemplateStore is the C13 reusable-plan library: successful decompositions
// are cached so a recurring goal can skip re-decomposition.
type TemplateStore struct {
	mu    sync.Mutex
	doc   *TemplateStoreDoc
	store OutboxStore
}

// NewTemplateStore loads (or initializes) the template library.
func NewTemplateStore(store OutboxStore) (*TemplateStore, error) {
	doc := &TemplateStoreDoc{}
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	return &TemplateStore{doc: doc, store: store}, nil
}

// Save stores a template, evicting the oldest entry once the cap is hit.
func (s *TemplateStore) Save(t TaskTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Templates = append(s.doc.Templates, t)
	if len(s.doc.Templates) > templateStoreCap {
		s.doc.Templates = s.doc.Templates[len(s.doc.Templates)-templateStoreCap:]
	}
	return s.store.Save(s.doc)
}

// FindByGoal returns the most recent template whose goal matches exactly,
// or nil. Fuzzy goal matching is left to the caller (e.g. via an
// embedding similarity check against the vector store) — this is the
// exact-match fast path.
func (s *TemplateStore) FindByGoal(goal string) *TaskTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.doc.Templates) - 1; i >= 0; i-- {
		if s.doc.Templates[i].Goal == goal {
			t := s.doc.Templates[i]
			return &t
		}
	}
	return nil
}
