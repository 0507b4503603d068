package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CollectionProvider resolves a named collection (identity, preferences,
// contacts, or a per-channel name) to its backing VectorStore. Exactly one
// VectorStore instance is expected per name — the provider is responsible
// for caching/lazy-instantiation.
type CollectionProvider interface {
	Collection(name string) (VectorStore, error)
}

// PreferenceSource identifies how a preference record was derived.
type PreferenceSource string

const (
	SourceUserStated PreferenceSource = "user_stated"
	SourceLLMDerived PreferenceSource = "llm_derived"
	SourceSystem     PreferenceSource = "system"
)

// IdentityRecord is one `(aspect, description, timestamp)` fact about the
// principal. Aspects are unique by slug — writes are delete-then-insert.
type IdentityRecord struct {
	Aspect      string
	Description string
	Timestamp   time.Time
}

// PreferenceRecord is one `(category, text, source, confidence, timestamp)`
// preference. Preferences are append-only by design — no uniqueness.
type PreferenceRecord struct {
	Category   string
	Text       string
	Source     PreferenceSource
	Confidence float64
	Timestamp  time.Time
}

// ContactRecord is one `(name, relationship, attributes)` contact, unique
// by normalized name.
type ContactRecord struct {
	Name         string
	Relationship string
	Attributes   map[string]string
	Timestamp    time.Time
}

const (
	collectionIdentity    = "identity"
	collectionPreferences = "preferences"
	collectionContacts    = "contacts"
)

// CollectiveStore manages the three logical collections shared across all
// channels: identity, preferences, contacts. Every mutating call also
// appends a backup record (see BackupWriter) for crash-safe replay.
type CollectiveStore struct {
	provider CollectionProvider
	embedder EmbeddingProvider
	backup   BackupWriter
}

// BackupWriter appends an append-only backup record for a mutating call on
// one of the three collective collections (C2's contract).
type BackupWriter interface {
	AppendBackup(record BackupRecord) error
}

// BackupRecord is one JSONL line in brain_backup.jsonl.
type BackupRecord struct {
	Collection string                 `json:"collection"`
	ID         string                 `json:"id"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	Timestamp  time.Time              `json:"timestamp"`
}

// NewCollectiveStore builds a CollectiveStore over the given provider.
func NewCollectiveStore(provider CollectionProvider, embedder EmbeddingProvider, backup BackupWriter) *CollectiveStore {
	return &CollectiveStore{provider: provider, embedder: embedder, backup: backup}
}

func identitySlugID(aspect string) string {
	return "identity:" + slugify(aspect)
}

func contactSlugID(name string) string {
	return "contact:" + slugify(name)
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

// RememberIdentity stores (or replaces, delete-then-insert) an identity
// fact keyed by its aspect slug.
func (c *CollectiveStore) RememberIdentity(ctx context.Context, rec IdentityRecord) error {
	store, err := c.provider.Collection(collectionIdentity)
	if err != nil {
		return fmt.Errorf("identity collection: %w", err)
	}
	id := identitySlugID(rec.Aspect)
	_ = store.Delete(ctx, id) // delete-then-insert; ignore not-found

	embedding, err := c.embedder.Embed(ctx, rec.Description)
	if err != nil {
		return fmt.Errorf("embed identity: %w", err)
	}
	entry := &MemoryEntry{
		ID:        id,
		Content:   rec.Description,
		Embedding: embedding,
		Metadata: map[string]interface{}{
			"aspect":    rec.Aspect,
			"type":      "identity",
		},
		CreatedAt: rec.Timestamp,
		UpdatedAt: rec.Timestamp,
	}
	if err := store.Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return c.writeBackup(collectionIdentity, id, rec.Description, entry.Metadata, rec.Timestamp)
}

// RememberPreference appends a preference; preferences are never replaced.
func (c *CollectiveStore) RememberPreference(ctx context.Context, rec PreferenceRecord) error {
	store, err := c.provider.Collection(collectionPreferences)
	if err != nil {
		return fmt.Errorf("preferences collection: %w", err)
	}
	embedding, err := c.embedder.Embed(ctx, rec.Text)
	if err != nil {
		return fmt.Errorf("embed preference: %w", err)
	}
	id := fmt.Sprintf("pref:%d:%s", rec.Timestamp.UnixNano(), slugify(rec.Category))
	meta := map[string]interface{}{
		"category":   rec.Category,
		"source":     string(rec.Source),
		"confidence": rec.Confidence,
		"type":       "preference",
	}
	entry := &MemoryEntry{
		ID: id, Content: rec.Text, Embedding: embedding, Metadata: meta,
		CreatedAt: rec.Timestamp, UpdatedAt: rec.Timestamp,
	}
	if err := store.Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert preference: %w", err)
	}
	return c.writeBackup(collectionPreferences, id, rec.Text, meta, rec.Timestamp)
}

// RememberContact stores (or replaces) a contact keyed by normalized name.
func (c *CollectiveStore) RememberContact(ctx context.Context, rec ContactRecord) error {
	store, err := c.provider.Collection(collectionContacts)
	if err != nil {
		return fmt.Errorf("contacts collection: %w", err)
	}
	id := contactSlugID(rec.Name)
	_ = store.Delete(ctx, id)

	content := fmt.Sprintf("%s (%s)", rec.Name, rec.Relationship)
	embedding, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed contact: %w", err)
	}
	meta := map[string]interface{}{
		"name":         rec.Name,
		"relationship": rec.Relationship,
		"type":         "contact",
	}
	for k, v := range rec.Attributes {
		meta["attr_"+k] = v
	}
	entry := &MemoryEntry{
		ID: id, Content: content, Embedding: embedding, Metadata: meta,
		CreatedAt: rec.Timestamp, UpdatedAt: rec.Timestamp,
	}
	if err := store.Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return c.writeBackup(collectionContacts, id, content, meta, rec.Timestamp)
}

func (c *CollectiveStore) writeBackup(collection, id, content string, meta map[string]interface{}, ts time.Time) error {
	if c.backup == nil {
		return nil
	}
	return c.backup.AppendBackup(BackupRecord{
		Collection: collection, ID: id, Content: content, Metadata: meta, Timestamp: ts,
	})
}

// SearchTop runs a semantic search against one of the three collective
// collections and returns the top-k matches.
func (c *CollectiveStore) SearchTop(ctx context.Context, collection, query string, topK int) ([]*MemoryEntry, error) {
	store, err := c.provider.Collection(collection)
	if err != nil {
		return nil, fmt.Errorf("%s collection: %w", collection, err)
	}
	queryEmbed, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := store.Search(ctx, queryEmbed, topK, nil)
	if err != nil {
		// Search failures degrade to empty result, never fatal (§4.1).
		return nil, nil
	}
	return results, nil
}

// RestoreRecord implements persistence.RestoreTarget: it re-embeds and
// re-inserts one backed-up record directly against the resolved
// collection, synchronously, with no dependence on any background
// dispatch loop (§4.1).
func (c *CollectiveStore) RestoreRecord(collection, id, content string, metadata map[string]interface{}) error {
	ctx := context.Background()
	store, err := c.provider.Collection(collection)
	if err != nil {
		return fmt.Errorf("%s collection: %w", collection, err)
	}
	embedding, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed restored record: %w", err)
	}
	entry := &MemoryEntry{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	return store.Insert(ctx, entry)
}

// RestoreTarget receives one replayed backup record and applies it
// synchronously against the resolved collection.
type RestoreTarget interface {
	RestoreRecord(collection, id, content string, metadata map[string]interface{}) error
}

// BackupReplayer replays an append-only backup log into a RestoreTarget,
// returning how many records were applied.
type BackupReplayer interface {
	Restore(target RestoreTarget) (int, error)
}

// RestoreIfEmpty replays the backup log into this store when any of the
// three collective collections is currently empty (§4.1 boot condition).
func (c *CollectiveStore) RestoreIfEmpty(ctx context.Context, backup BackupReplayer) (int, error) {
	identityN, prefN, contactN, err := c.Counts(ctx)
	if err != nil {
		return 0, fmt.Errorf("count collective collections: %w", err)
	}
	if identityN > 0 && prefN > 0 && contactN > 0 {
		return 0, nil
	}
	return backup.Restore(c)
}

// Counts returns the number of records currently in each collective
// collection — used to decide whether a backup replay is needed on boot.
func (c *CollectiveStore) Counts(ctx context.Context) (identity, preferences, contacts int, err error) {
	count := func(name string) (int, error) {
		store, cerr := c.provider.Collection(name)
		if cerr != nil {
			return 0, cerr
		}
		return store.Count(ctx)
	}
	if identity, err = count(collectionIdentity); err != nil {
		return
	}
	if preferences, err = count(collectionPreferences); err != nil {
		return
	}
	contacts, err = count(collectionContacts)
	return
}
