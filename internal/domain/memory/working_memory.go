package memory

import (
	"strings"
	"sync"
	"time"
)

// Tone is the detected emotional register of the current conversation.
type Tone string

const (
	ToneNeutral  Tone = "neutral"
	ToneUrgent   Tone = "urgent"
	ToneStressed Tone = "stressed"
	ToneRelaxed  Tone = "relaxed"
	ToneFormal   Tone = "formal"
)

const (
	maxUnfinishedItems = 5
	maxOpenThreads     = 3
	openThreadTTL      = 48 * time.Hour
	maxCorrections     = 3
	correctionTTL      = 24 * time.Hour
	maxPreferenceCats  = 10
	maxPreferenceVals  = 5
	maxPendingActions  = 3
	pendingActionTTL   = 30 * time.Minute
)

// OpenThread is an unresolved conversational topic, expiring after 48h.
type OpenThread struct {
	Topic     string    `json:"topic"`
	StartedAt time.Time `json:"started_at"`
}

// Correction is a recent user correction of the assistant, expiring after 24h.
type Correction struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingAction is a drafted irreversible tool call awaiting user
// confirmation. At most one per tool_name; TTL 30 minutes.
type PendingAction struct {
	ToolName     string                 `json:"tool_name"`
	Parameters   map[string]interface{} `json:"parameters"`
	Label        string                 `json:"label"`
	ProposalText string                 `json:"proposal_text"`
	CreatedAt    time.Time              `json:"created_at"`
}

func (p *PendingAction) expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > pendingActionTTL
}

// WorkingMemoryDoc is the single process-wide document persisted
// atomically to working_memory.json.
type WorkingMemoryDoc struct {
	Tone                Tone                         `json:"tone"`
	Calibration         string                       `json:"calibration"`
	UnfinishedItems     []string                     `json:"unfinished_items"`
	OpenThreads         []OpenThread                 `json:"open_threads"`
	Corrections         []Correction                 `json:"corrections"`
	PreferenceProfile   map[string][]string          `json:"preference_profile"`
	TimezoneOverride    string                       `json:"timezone_override,omitempty"`
	PendingActions      []PendingAction              `json:"pending_actions"`
	LastActive          time.Time                    `json:"last_active"`
	SessionCounter      int                          `json:"session_counter"`
}

func newWorkingMemoryDoc() *WorkingMemoryDoc {
	return &WorkingMemoryDoc{
		Tone:              ToneNeutral,
		PreferenceProfile: make(map[string][]string),
	}
}

// Store abstracts the atomic load/save backing for WorkingMemory — see
// persistence.JSONFile for the concrete single-writer implementation.
type Store interface {
	Load(v interface{}) error
	Save(v interface{}) error
}

// WorkingMemory is the in-process guard over the working-memory document;
// all mutators persist synchronously (§4.3).
type WorkingMemory struct {
	mu    sync.Mutex
	doc   *WorkingMemoryDoc
	store Store
}

// NewWorkingMemory loads (or initializes) the working memory document
// from store. A missing file loads defaults (§8 boundary behavior).
func NewWorkingMemory(store Store) (*WorkingMemory, error) {
	doc := newWorkingMemoryDoc()
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	if doc.PreferenceProfile == nil {
		doc.PreferenceProfile = make(map[string][]string)
	}
	return &WorkingMemory{doc: doc, store: store}, nil
}

func (w *WorkingMemory) persist() error {
	return w.store.Save(w.doc)
}

// SetTone updates the detected tone and persists.
func (w *WorkingMemory) SetTone(t Tone) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.Tone = t
	return w.persist()
}

// Tone returns the current tone.
func (w *WorkingMemory) Tone() Tone {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doc.Tone
}

// SetCalibration sets the calibration directive (truncated to 200 chars).
func (w *WorkingMemory) SetCalibration(directive string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(directive) > 200 {
		directive = directive[:200]
	}
	w.doc.Calibration = directive
	return w.persist()
}

// ClearCalibration removes the calibration directive.
func (w *WorkingMemory) ClearCalibration() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.Calibration = ""
	return w.persist()
}

// Calibration returns the current calibration directive, or "" if unset.
func (w *WorkingMemory) Calibration() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doc.Calibration
}

// AddUnfinishedItem appends an item, evicting the oldest (LRU) beyond 5.
func (w *WorkingMemory) AddUnfinishedItem(item string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.UnfinishedItems = append(w.doc.UnfinishedItems, item)
	if len(w.doc.UnfinishedItems) > maxUnfinishedItems {
		w.doc.UnfinishedItems = w.doc.UnfinishedItems[len(w.doc.UnfinishedItems)-maxUnfinishedItems:]
	}
	return w.persist()
}

// OpenThreads returns unexpired open threads (≤3, expire after 48h),
// pruning expired entries as a side effect.
func (w *WorkingMemory) OpenThreads() ([]OpenThread, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	live := w.doc.OpenThreads[:0]
	for _, t := range w.doc.OpenThreads {
		if now.Sub(t.StartedAt) <= openThreadTTL {
			live = append(live, t)
		}
	}
	changed := len(live) != len(w.doc.OpenThreads)
	w.doc.OpenThreads = live
	if changed {
		if err := w.persist(); err != nil {
			return nil, err
		}
	}
	return append([]OpenThread{}, w.doc.OpenThreads...), nil
}

// AddOpenThread adds a new open thread, evicting the oldest beyond 3.
func (w *WorkingMemory) AddOpenThread(topic string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.OpenThreads = append(w.doc.OpenThreads, OpenThread{Topic: topic, StartedAt: time.Now()})
	if len(w.doc.OpenThreads) > maxOpenThreads {
		w.doc.OpenThreads = w.doc.OpenThreads[len(w.doc.OpenThreads)-maxOpenThreads:]
	}
	return w.persist()
}

// AddCorrection records a recent correction, evicting the oldest beyond 3.
func (w *WorkingMemory) AddCorrection(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.Corrections = append(w.doc.Corrections, Correction{Text: text, Timestamp: time.Now()})
	if len(w.doc.Corrections) > maxCorrections {
		w.doc.Corrections = w.doc.Corrections[len(w.doc.Corrections)-maxCorrections:]
	}
	return w.persist()
}

// Corrections returns unexpired corrections (≤3, expire after 24h).
func (w *WorkingMemory) Corrections() ([]Correction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	live := w.doc.Corrections[:0]
	for _, c := range w.doc.Corrections {
		if now.Sub(c.Timestamp) <= correctionTTL {
			live = append(live, c)
		}
	}
	changed := len(live) != len(w.doc.Corrections)
	w.doc.Corrections = live
	if changed {
		if err := w.persist(); err != nil {
			return nil, err
		}
	}
	return append([]Correction{}, w.doc.Corrections...), nil
}

// SetPreference records a value under category (≤10 categories × ≤5 values each).
func (w *WorkingMemory) SetPreference(category, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	vals := w.doc.PreferenceProfile[category]
	vals = append(vals, value)
	if len(vals) > maxPreferenceVals {
		vals = vals[len(vals)-maxPreferenceVals:]
	}
	if _, exists := w.doc.PreferenceProfile[category]; !exists && len(w.doc.PreferenceProfile) >= maxPreferenceCats {
		return w.persist() // at cap: drop silently rather than evict an unrelated category
	}
	w.doc.PreferenceProfile[category] = vals
	return w.persist()
}

// SetTimezoneOverride sets (or clears, with "") the user's timezone override.
func (w *WorkingMemory) SetTimezoneOverride(tz string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.TimezoneOverride = tz
	return w.persist()
}

// TimezoneOverride returns the current override, or "" if unset.
func (w *WorkingMemory) TimezoneOverride() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doc.TimezoneOverride
}

// AddPendingAction stashes a drafted irreversible call. At most one entry
// per tool_name is retained — adding a second for the same tool replaces
// the first (round-trip law in §8).
func (w *WorkingMemory) AddPendingAction(action PendingAction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	action.CreatedAt = time.Now()
	filtered := w.doc.PendingActions[:0]
	for _, a := range w.doc.PendingActions {
		if a.ToolName != action.ToolName {
			filtered = append(filtered, a)
		}
	}
	filtered = append(filtered, action)
	if len(filtered) > maxPendingActions {
		filtered = filtered[len(filtered)-maxPendingActions:]
	}
	w.doc.PendingActions = filtered
	return w.persist()
}

// PopPendingAction returns and removes the most-recent pending action
// matching tool (or the most recent of any tool if tool is ""). Entries
// older than 30 minutes are silently dropped on read (§4.3).
func (w *WorkingMemory) PopPendingAction(tool string) (*PendingAction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	// live must not alias doc.PendingActions' backing array: the scan
	// below reads forward-order indices while this loop walks backward,
	// so writing into the same array would clobber not-yet-read entries.
	var live []PendingAction
	var match *PendingAction
	for i := len(w.doc.PendingActions) - 1; i >= 0; i-- {
		a := w.doc.PendingActions[i]
		if a.expired(now) {
			continue
		}
		if match == nil && (tool == "" || a.ToolName == tool) {
			match = &a
			continue
		}
		live = append(live, a)
	}
	// live was built in reverse; restore original relative order.
	for i, j := 0, len(live)-1; i < j; i, j = i+1, j-1 {
		live[i], live[j] = live[j], live[i]
	}
	w.doc.PendingActions = live
	if err := w.persist(); err != nil {
		return nil, err
	}
	return match, nil
}

// Touch updates LastActive and increments the session counter.
func (w *WorkingMemory) Touch() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.LastActive = time.Now()
	w.doc.SessionCounter++
	return w.persist()
}

// IsConfirmation matches a user message against the fixed affirmative
// vocabulary used to pop-and-execute a pending action (§4.9 step 1).
func IsConfirmation(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	switch t {
	case "yes", "yes do it", "do it", "confirm", "confirmed", "go ahead", "yep", "yeah", "ok", "okay", "proceed":
		return true
	}
	return false
}
