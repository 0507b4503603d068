package memory

import (
	"context"
	"testing"
	"time"
)

type fakeCollectionProvider struct {
	stores map[string]*InMemoryVectorStore
}

func newFakeCollectionProvider() *fakeCollectionProvider {
	return &fakeCollectionProvider{stores: make(map[string]*InMemoryVectorStore)}
}

func (p *fakeCollectionProvider) Collection(name string) (VectorStore, error) {
	s, ok := p.stores[name]
	if !ok {
		s = NewInMemoryVectorStore()
		p.stores[name] = s
	}
	return s, nil
}

type fakeBackupWriter struct {
	records []BackupRecord
}

func (w *fakeBackupWriter) AppendBackup(record BackupRecord) error {
	w.records = append(w.records, record)
	return nil
}

func newTestCollectiveStore() (*CollectiveStore, *fakeCollectionProvider, *fakeBackupWriter) {
	provider := newFakeCollectionProvider()
	backup := &fakeBackupWriter{}
	return NewCollectiveStore(provider, NewSimpleEmbedder(16), backup), provider, backup
}

func TestCollectiveStore_RememberIdentity_ReplacesSameAspect(t *testing.T) {
	c, _, backup := newTestCollectiveStore()
	ctx := context.Background()

	if err := c.RememberIdentity(ctx, IdentityRecord{Aspect: "role", Description: "founder of Amplify", Timestamp: time.Now()}); err != nil {
		t.Fatalf("RememberIdentity: %v", err)
	}
	if err := c.RememberIdentity(ctx, IdentityRecord{Aspect: "role", Description: "CEO of Amplify", Timestamp: time.Now()}); err != nil {
		t.Fatalf("RememberIdentity (replace): %v", err)
	}

	identityN, _, _, err := c.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if identityN != 1 {
		t.Errorf("expected replace-by-aspect to keep identity count at 1, got %d", identityN)
	}
	if len(backup.records) != 2 {
		t.Errorf("expected 2 backup records (one per write), got %d", len(backup.records))
	}
}

func TestCollectiveStore_RememberPreference_IsAppendOnly(t *testing.T) {
	c, _, _ := newTestCollectiveStore()
	ctx := context.Background()

	_ = c.RememberPreference(ctx, PreferenceRecord{Category: "food", Text: "likes sushi", Source: SourceUserStated, Timestamp: time.Now()})
	_ = c.RememberPreference(ctx, PreferenceRecord{Category: "food", Text: "dislikes cilantro", Source: SourceUserStated, Timestamp: time.Now().Add(time.Second)})

	_, prefN, _, err := c.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if prefN != 2 {
		t.Errorf("expected both preferences to survive (append-only), got %d", prefN)
	}
}

func TestCollectiveStore_RememberContact_ReplacesByNormalizedName(t *testing.T) {
	c, _, _ := newTestCollectiveStore()
	ctx := context.Background()

	_ = c.RememberContact(ctx, ContactRecord{Name: "Bob Smith", Relationship: "colleague", Timestamp: time.Now()})
	_ = c.RememberContact(ctx, ContactRecord{Name: "Bob Smith", Relationship: "friend", Timestamp: time.Now()})

	_, _, contactN, err := c.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if contactN != 1 {
		t.Errorf("expected same-name contact writes to replace, got count %d", contactN)
	}
}

func TestCollectiveStore_RestoreIfEmpty_SkipsWhenAllPopulated(t *testing.T) {
	c, _, _ := newTestCollectiveStore()
	ctx := context.Background()
	_ = c.RememberIdentity(ctx, IdentityRecord{Aspect: "role", Description: "x", Timestamp: time.Now()})
	_ = c.RememberPreference(ctx, PreferenceRecord{Category: "x", Text: "x", Timestamp: time.Now()})
	_ = c.RememberContact(ctx, ContactRecord{Name: "x", Timestamp: time.Now()})

	replayer := &countingReplayer{}
	n, err := c.RestoreIfEmpty(ctx, replayer)
	if err != nil {
		t.Fatalf("RestoreIfEmpty: %v", err)
	}
	if n != 0 || replayer.called {
		t.Error("expected RestoreIfEmpty to skip the replay when all three collections are populated")
	}
}

func TestCollectiveStore_RestoreIfEmpty_ReplaysWhenAnyCollectionEmpty(t *testing.T) {
	c, _, _ := newTestCollectiveStore()
	ctx := context.Background()
	_ = c.RememberIdentity(ctx, IdentityRecord{Aspect: "role", Description: "x", Timestamp: time.Now()})
	// preferences and contacts left empty

	replayer := &countingReplayer{toReturn: 3}
	n, err := c.RestoreIfEmpty(ctx, replayer)
	if err != nil {
		t.Fatalf("RestoreIfEmpty: %v", err)
	}
	if n != 3 || !replayer.called {
		t.Error("expected RestoreIfEmpty to invoke the replayer when a collection is empty")
	}
}

type countingReplayer struct {
	called   bool
	toReturn int
}

func (r *countingReplayer) Restore(target RestoreTarget) (int, error) {
	r.called = true
	return r.toReturn, nil
}

func TestCollectiveStore_RestoreRecord_InsertsDirectly(t *testing.T) {
	c, _, _ := newTestCollectiveStore()
	ctx := context.Background()

	if err := c.RestoreRecord(collectionIdentity, "identity:role", "founder", map[string]interface{}{"aspect": "role"}); err != nil {
		t.Fatalf("RestoreRecord: %v", err)
	}

	identityN, _, _, err := c.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if identityN != 1 {
		t.Errorf("expected restored record to land in the identity collection, got count %d", identityN)
	}
}
