package service

import (
	"sync"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/entity"
)

// ReminderStoreDoc is the persisted reminder list.
type ReminderStoreDoc struct {
	Reminders []*entity.Reminder `json:"reminders"`
}

// ReminderStore is the C12 persistence layer: a flat, atomically-saved
// list of reminders, queried by the scheduler tick.
type ReminderStore struct {
	mu    sync.Mutex
	doc   *ReminderStoreDoc
	store OutboxStore
}

// NewReminderStore loads (or initializes) the reminder list.
func NewReminderStore(store OutboxStore) (*ReminderStore, error) {
	doc := &ReminderStoreDoc{}
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	return &ReminderStore{doc: doc, store: store}, nil
}

// Add appends a new pending reminder.
func (s *ReminderStore) Add(r *entity.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Status = entity.ReminderPending
	s.doc.Reminders = append(s.doc.Reminders, r)
	return s.store.Save(s.doc)
}

// Cancel marks id cancelled if it is still pending.
func (s *ReminderStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.doc.Reminders {
		if r.ID == id && r.Status == entity.ReminderPending {
			r.Status = entity.ReminderCancelled
		}
	}
	return s.store.Save(s.doc)
}

// DuePending returns every still-pending reminder due at or before now,
// without mutating state — the caller transitions each one individually
// so a delivery failure on one does not lose the rest (§4.11 fire-at-most-once).
func (s *ReminderStore) DuePending(now time.Time) []*entity.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*entity.Reminder
	for _, r := range s.doc.Reminders {
		if r.IsDue(now) {
			due = append(due, r)
		}
	}
	return due
}

// MarkDelivering transitions id from pending to an in-flight delivering
// state before the notifier is called, so a crash mid-delivery cannot
// double-send. Unlike fired, delivering is not terminal: MarkRetry can
// send it back to pending if the delivery attempt fails (§4.11, §7 —
// failed deliveries retry next tick).
func (s *ReminderStore) MarkDelivering(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.doc.Reminders {
		if r.ID == id {
			r.Status = entity.ReminderDelivering
		}
	}
	return s.store.Save(s.doc)
}

// MarkRetry reverts id from delivering back to pending so the next tick's
// DuePending picks it up again. Used after a delivery failure that has not
// yet been dead-lettered.
func (s *ReminderStore) MarkRetry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.doc.Reminders {
		if r.ID == id {
			r.Status = entity.ReminderPending
		}
	}
	return s.store.Save(s.doc)
}

// MarkFired transitions id to its terminal fired state, either after a
// successful delivery or once the dead-letter queue has given up retrying.
func (s *ReminderStore) MarkFired(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.doc.Reminders {
		if r.ID == id {
			r.Status = entity.ReminderFired
		}
	}
	return s.store.Save(s.doc)
}

// All returns a copy of every reminder, in the order added, for operator inspection.
func (s *ReminderStore) All() []*entity.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Reminder, len(s.doc.Reminders))
	copy(out, s.doc.Reminders)
	return out
}
