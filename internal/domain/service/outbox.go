package service

import (
	"sync"
	"time"
)

// OutboxStatus is the lifecycle of one idempotency-keyed side-effect.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

const outboxGCAge = 7 * 24 * time.Hour

// OutboxEntry is one record in the idempotency map, keyed by
// hash(tool ∥ op ∥ sorted(args)) (§3, §4.6).
type OutboxEntry struct {
	Key       string       `json:"key"`
	Status    OutboxStatus `json:"status"`
	Result    string       `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// OutboxDoc is the persisted document: key -> entry.
type OutboxDoc struct {
	Entries map[string]*OutboxEntry `json:"entries"`
}

// Outbox enforces exactly-once execution for irreversible side-effects
// (§4.6). All mutations persist synchronously through the injected Store.
type Outbox struct {
	mu    sync.Mutex
	doc   *OutboxDoc
	store OutboxStore
}

// OutboxStore is the persistence seam (satisfied by persistence.JSONFile).
type OutboxStore interface {
	Load(v interface{}) error
	Save(v interface{}) error
}

// NewOutbox loads (or initializes) the outbox document.
func NewOutbox(store OutboxStore) (*Outbox, error) {
	doc := &OutboxDoc{Entries: make(map[string]*OutboxEntry)}
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]*OutboxEntry)
	}
	return &Outbox{doc: doc, store: store}, nil
}

// IsDuplicate reports whether key has already been marked sent — the
// caller must skip executing the tool and return the prior result.
func (o *Outbox) IsDuplicate(key string) (dup bool, priorResult string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.doc.Entries[key]
	if !ok || e.Status != OutboxSent {
		return false, ""
	}
	return true, e.Result
}

// RecordPending marks key as pending before the tool executes.
func (o *Outbox) RecordPending(key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	o.doc.Entries[key] = &OutboxEntry{Key: key, Status: OutboxPending, CreatedAt: now, UpdatedAt: now}
	return o.store.Save(o.doc)
}

// MarkSent transitions key to sent with the tool's result. Once sent, the
// same key must never execute again until manually cleared.
func (o *Outbox) MarkSent(key, result string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.doc.Entries[key]
	if !ok {
		e = &OutboxEntry{Key: key, CreatedAt: time.Now()}
		o.doc.Entries[key] = e
	}
	e.Status = OutboxSent
	e.Result = result
	e.UpdatedAt = time.Now()
	return o.store.Save(o.doc)
}

// MarkFailed transitions key to failed with the error.
func (o *Outbox) MarkFailed(key, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.doc.Entries[key]
	if !ok {
		e = &OutboxEntry{Key: key, CreatedAt: time.Now()}
		o.doc.Entries[key] = e
	}
	e.Status = OutboxFailed
	e.Error = errMsg
	e.UpdatedAt = time.Now()
	return o.store.Save(o.doc)
}

// Clear manually clears a key (e.g. operator override).
func (o *Outbox) Clear(key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.doc.Entries, key)
	return o.store.Save(o.doc)
}

// GC drops non-pending entries older than 7 days. Pending entries are
// never allowed to expire.
func (o *Outbox) GC() (removed int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	for k, e := range o.doc.Entries {
		if e.Status == OutboxPending {
			continue
		}
		if now.Sub(e.UpdatedAt) > outboxGCAge {
			delete(o.doc.Entries, k)
			removed++
		}
	}
	if removed > 0 {
		err = o.store.Save(o.doc)
	}
	return removed, err
}
