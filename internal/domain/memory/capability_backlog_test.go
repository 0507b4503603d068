package memory

import (
	"testing"
	"time"
)

type fakeBacklogStore struct{}

func (fakeBacklogStore) Load(v interface{}) error { return nil }
func (fakeBacklogStore) Save(v interface{}) error  { return nil }

func TestCapabilityBacklog_Record_StampsTimestamp(t *testing.T) {
	b, err := NewCapabilityBacklog(fakeBacklogStore{})
	if err != nil {
		t.Fatalf("NewCapabilityBacklog: %v", err)
	}

	before := time.Now()
	if err := b.Record("connect to Notion", "telegram"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries := b.Since(before.Add(-time.Minute))
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Request != "connect to Notion" || entries[0].Channel != "telegram" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[0].Timestamp.Before(before) {
		t.Error("expected Record to stamp a timestamp at or after the call")
	}
}

func TestCapabilityBacklog_Since_FiltersByCutoffInclusive(t *testing.T) {
	b, _ := NewCapabilityBacklog(fakeBacklogStore{})
	b.doc.Entries = append(b.doc.Entries,
		BacklogEntry{Request: "old", Timestamp: time.Now().Add(-time.Hour)},
		BacklogEntry{Request: "exact", Timestamp: time.Now().Add(-time.Minute)},
		BacklogEntry{Request: "new", Timestamp: time.Now()},
	)

	cutoff := b.doc.Entries[1].Timestamp
	got := b.Since(cutoff)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries at or after cutoff, got %d: %+v", len(got), got)
	}
	for _, e := range got {
		if e.Request == "old" {
			t.Error("Since must not include entries before the cutoff")
		}
	}
}

func TestCapabilityBacklog_Since_EmptyBacklog(t *testing.T) {
	b, _ := NewCapabilityBacklog(fakeBacklogStore{})
	if got := b.Since(time.Now().Add(-time.Hour)); len(got) != 0 {
		t.Errorf("expected no entries from an empty backlog, got %d", len(got))
	}
}
