package service

import (
	"sync"
	"time"
)

const (
	dlqFailureThreshold = 3
	dlqRingSize         = 100
)

// DLQItem is one dead-lettered failure (§3, §4.7).
type DLQItem struct {
	FailureKey     string    `json:"failure_key"`
	Error          string    `json:"error"`
	Context        string    `json:"context,omitempty"`
	FailureCount   int       `json:"failure_count"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// DeadLetterQueueDoc is the persisted ring buffer + live counters.
type DeadLetterQueueDoc struct {
	Counters map[string]int `json:"counters"`
	Items    []DLQItem      `json:"items"`
}

// DeadLetterQueue implements the per-key failure counter + ring buffer of
// §4.7: after the 3rd failure for a key, it is appended to the ring
// buffer (capped at 100) and its counter cleared.
type DeadLetterQueue struct {
	mu    sync.Mutex
	doc   *DeadLetterQueueDoc
	store OutboxStore // same Load/Save shape, reused for the DLQ file
}

// NewDeadLetterQueue loads (or initializes) the DLQ document.
func NewDeadLetterQueue(store OutboxStore) (*DeadLetterQueue, error) {
	doc := &DeadLetterQueueDoc{Counters: make(map[string]int)}
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	if doc.Counters == nil {
		doc.Counters = make(map[string]int)
	}
	return &DeadLetterQueue{doc: doc, store: store}, nil
}

// RecordFailure increments key's counter; after the 3rd failure it is
// dead-lettered (appended to the ring buffer, counter cleared) and
// deadLettered=true is returned.
func (d *DeadLetterQueue) RecordFailure(key, errMsg, ctx string) (deadLettered bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.doc.Counters[key]++
	if d.doc.Counters[key] < dlqFailureThreshold {
		return false, d.store.Save(d.doc)
	}

	item := DLQItem{
		FailureKey:     key,
		Error:          errMsg,
		Context:        ctx,
		FailureCount:   d.doc.Counters[key],
		DeadLetteredAt: time.Now(),
	}
	d.doc.Items = append(d.doc.Items, item)
	if len(d.doc.Items) > dlqRingSize {
		d.doc.Items = d.doc.Items[len(d.doc.Items)-dlqRingSize:]
	}
	delete(d.doc.Counters, key)
	return true, d.store.Save(d.doc)
}

// RecordSuccess clears key's failure counter.
func (d *DeadLetterQueue) RecordSuccess(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.doc.Counters[key]; !ok {
		return nil
	}
	delete(d.doc.Counters, key)
	return d.store.Save(d.doc)
}

// LastN returns the most recent n dead-lettered items.
func (d *DeadLetterQueue) LastN(n int) []DLQItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 || n > len(d.doc.Items) {
		n = len(d.doc.Items)
	}
	return append([]DLQItem{}, d.doc.Items[len(d.doc.Items)-n:]...)
}
