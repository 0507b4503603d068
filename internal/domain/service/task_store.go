package service

import (
	"sync"

	"github.com/amplifyco/novaagent/internal/domain/entity"
)

// TaskStoreDoc is the persisted task queue.
type TaskStoreDoc struct {
	Tasks []*entity.Task `json:"tasks"`
}

// TaskStore is the C13 persistent FIFO queue: arrival-ordered, single
// writer, one task processed to completion before the next (§4.12).
type TaskStore struct {
	mu    sync.Mutex
	doc   *TaskStoreDoc
	store OutboxStore
}

// NewTaskStore loads (or initializes) the task queue.
func NewTaskStore(store OutboxStore) (*TaskStore, error) {
	doc := &TaskStoreDoc{}
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	return &TaskStore{doc: doc, store: store}, nil
}

// Enqueue appends a new pending task.
func (s *TaskStore) Enqueue(t *entity.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Status = entity.TaskPending
	s.doc.Tasks = append(s.doc.Tasks, t)
	return s.store.Save(s.doc)
}

// DequeueNext returns the oldest pending task and marks it running, or nil
// if the queue has no pending work.
func (s *TaskStore) DequeueNext() (*entity.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.doc.Tasks {
		if t.Status == entity.TaskPending {
			t.Status = entity.TaskRunning
			return t, s.store.Save(s.doc)
		}
	}
	return nil, nil
}

// Save persists the current in-memory task state (status, subtask
// progress) back to disk — called after every subtask transition so a
// restart resumes mid-task rather than re-running completed steps.
func (s *TaskStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Save(s.doc)
}

// Cancel marks id failed, which the runner's per-subtask status re-check
// treats as a cancellation request (§4.12).
func (s *TaskStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.doc.Tasks {
		if t.ID == id {
			t.Status = entity.TaskFailed
		}
	}
	return s.store.Save(s.doc)
}

// Get returns a task by ID.
func (s *TaskStore) Get(id string) *entity.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.doc.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// All returns every task in arrival order.
func (s *TaskStore) All() []*entity.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Task, len(s.doc.Tasks))
	copy(out, s.doc.Tasks)
	return out
}
