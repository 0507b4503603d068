package memory

import "time"

// ContactInteraction records the last time the principal interacted with
// a named contact — backs contact_interactions.json and feeds the
// attention engine's "stale contacts" observation category (§4.13).
type ContactInteraction struct {
	Name         string    `json:"name"`
	LastContact  time.Time `json:"last_contact"`
	InteractionN int       `json:"interaction_count"`
}

// ContactInteractionsDoc is the persisted document: name → interaction record.
type ContactInteractionsDoc struct {
	Contacts map[string]*ContactInteraction `json:"contacts"`
}

func newContactInteractionsDoc() *ContactInteractionsDoc {
	return &ContactInteractionsDoc{Contacts: make(map[string]*ContactInteraction)}
}

// ContactIntelligence tracks per-contact interaction recency, grounded on
// the original's stale-contact detection for the attention engine.
type ContactIntelligence struct {
	doc   *ContactInteractionsDoc
	store Store
}

// NewContactIntelligence loads (or initializes) the interaction log.
func NewContactIntelligence(store Store) (*ContactIntelligence, error) {
	doc := newContactInteractionsDoc()
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	if doc.Contacts == nil {
		doc.Contacts = make(map[string]*ContactInteraction)
	}
	return &ContactIntelligence{doc: doc, store: store}, nil
}

// RecordInteraction marks "now" as the last contact time for name.
func (c *ContactIntelligence) RecordInteraction(name string) error {
	rec, ok := c.doc.Contacts[name]
	if !ok {
		rec = &ContactInteraction{Name: name}
		c.doc.Contacts[name] = rec
	}
	rec.LastContact = time.Now()
	rec.InteractionN++
	return c.store.Save(c.doc)
}

// StaleContacts returns contacts with no interaction in at least
// staleAfter, sorted by staleness is left to the caller.
func (c *ContactIntelligence) StaleContacts(staleAfter time.Duration) []*ContactInteraction {
	now := time.Now()
	var stale []*ContactInteraction
	for _, rec := range c.doc.Contacts {
		if now.Sub(rec.LastContact) >= staleAfter {
			stale = append(stale, rec)
		}
	}
	return stale
}
