package memory

import "time"

// BacklogEntry records one thing the agent could not do — an unknown
// tool request or an unmet capability ask — surfaced by the daily digest.
type BacklogEntry struct {
	Request   string    `json:"request"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
}

// CapabilityBacklogDoc is the persisted append-only list.
type CapabilityBacklogDoc struct {
	Entries []BacklogEntry `json:"entries"`
}

// CapabilityBacklog is the append-only log of unmet requests.
type CapabilityBacklog struct {
	doc   *CapabilityBacklogDoc
	store Store
}

// NewCapabilityBacklog loads (or initializes) the backlog.
func NewCapabilityBacklog(store Store) (*CapabilityBacklog, error) {
	doc := &CapabilityBacklogDoc{}
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	return &CapabilityBacklog{doc: doc, store: store}, nil
}

// Record appends one unmet request.
func (b *CapabilityBacklog) Record(request, channel string) error {
	b.doc.Entries = append(b.doc.Entries, BacklogEntry{
		Request: request, Channel: channel, Timestamp: time.Now(),
	})
	return b.store.Save(b.doc)
}

// Since returns entries recorded at or after t — used by the daily digest
// to summarize the last day's unmet requests.
func (b *CapabilityBacklog) Since(t time.Time) []BacklogEntry {
	var out []BacklogEntry
	for _, e := range b.doc.Entries {
		if !e.Timestamp.Before(t) {
			out = append(out, e)
		}
	}
	return out
}
