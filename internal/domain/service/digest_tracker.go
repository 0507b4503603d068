package service

import "sync"

// DigestTrackerDoc is the persisted "last digest sent" marker.
type DigestTrackerDoc struct {
	LastSentDate string `json:"last_sent_date"` // YYYY-MM-DD in the user's configured TZ
}

// DigestTracker records which calendar date the daily digest (C17) was
// last delivered on, so a 60s poll loop sends at most once per day even
// across restarts (§4.16).
type DigestTracker struct {
	mu    sync.Mutex
	doc   *DigestTrackerDoc
	store OutboxStore
}

// NewDigestTracker loads (or initializes) the tracker.
func NewDigestTracker(store OutboxStore) (*DigestTracker, error) {
	doc := &DigestTrackerDoc{}
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	return &DigestTracker{doc: doc, store: store}, nil
}

// AlreadySentOn reports whether date (YYYY-MM-DD) has already been sent.
func (t *DigestTracker) AlreadySentOn(date string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doc.LastSentDate == date
}

// MarkSent records date as sent.
func (t *DigestTracker) MarkSent(date string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.LastSentDate = date
	return t.store.Save(t.doc)
}
