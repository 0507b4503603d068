package memory

import (
	"testing"
	"time"
)

type fakeContactStore struct{}

func (fakeContactStore) Load(v interface{}) error { return nil }
func (fakeContactStore) Save(v interface{}) error  { return nil }

func TestContactIntelligence_RecordInteraction_CreatesAndIncrements(t *testing.T) {
	c, err := NewContactIntelligence(fakeContactStore{})
	if err != nil {
		t.Fatalf("NewContactIntelligence: %v", err)
	}

	if err := c.RecordInteraction("Bob"); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	if err := c.RecordInteraction("Bob"); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}

	rec, ok := c.doc.Contacts["Bob"]
	if !ok {
		t.Fatal("expected Bob to be recorded")
	}
	if rec.InteractionN != 2 {
		t.Errorf("expected interaction count 2, got %d", rec.InteractionN)
	}
	if rec.LastContact.IsZero() {
		t.Error("expected LastContact to be stamped")
	}
}

func TestContactIntelligence_StaleContacts(t *testing.T) {
	c, _ := NewContactIntelligence(fakeContactStore{})
	c.doc.Contacts["Alice"] = &ContactInteraction{Name: "Alice", LastContact: time.Now().Add(-48 * time.Hour)}
	c.doc.Contacts["Carol"] = &ContactInteraction{Name: "Carol", LastContact: time.Now()}

	stale := c.StaleContacts(24 * time.Hour)
	if len(stale) != 1 || stale[0].Name != "Alice" {
		t.Errorf("expected only Alice to be stale, got %+v", stale)
	}
}

func TestContactIntelligence_StaleContacts_NoneWhenAllRecent(t *testing.T) {
	c, _ := NewContactIntelligence(fakeContactStore{})
	c.doc.Contacts["Dave"] = &ContactInteraction{Name: "Dave", LastContact: time.Now()}

	if stale := c.StaleContacts(24 * time.Hour); len(stale) != 0 {
		t.Errorf("expected no stale contacts, got %+v", stale)
	}
}
