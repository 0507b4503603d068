package service

import (
	"strings"
	"sync"
	"time"
)

const (
	attentionLogCap    = 100
	attentionDedupTTL  = 24 * time.Hour
	attentionPrefixLen = 50
)

// AttentionObservation is one sent observation, kept only long enough to
// dedup against the same 50-char prefix within 24h (§4.13).
type AttentionObservation struct {
	Text    string    `json:"text"`
	SentAt  time.Time `json:"sent_at"`
	Mode    string    `json:"mode"`
}

// AttentionLogDoc is the persisted, capped observation log.
type AttentionLogDoc struct {
	Observations []AttentionObservation `json:"observations"`
}

// AttentionLog backs the attention engine's (C14) dedup window and
// history cap.
type AttentionLog struct {
	mu    sync.Mutex
	doc   *AttentionLogDoc
	store OutboxStore
}

// NewAttentionLog loads (or initializes) the attention log.
func NewAttentionLog(store OutboxStore) (*AttentionLog, error) {
	doc := &AttentionLogDoc{}
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	return &AttentionLog{doc: doc, store: store}, nil
}

// IsDuplicate reports whether text's 50-char prefix was already sent
// within the last 24 hours.
func (l *AttentionLog) IsDuplicate(text string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := prefixOf(text, attentionPrefixLen)
	for _, o := range l.doc.Observations {
		if now.Sub(o.SentAt) > attentionDedupTTL {
			continue
		}
		if prefixOf(o.Text, attentionPrefixLen) == prefix {
			return true
		}
	}
	return false
}

// Record appends a sent observation and prunes the log to 100 entries.
func (l *AttentionLog) Record(text, mode string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc.Observations = append(l.doc.Observations, AttentionObservation{Text: text, SentAt: now, Mode: mode})
	if len(l.doc.Observations) > attentionLogCap {
		l.doc.Observations = l.doc.Observations[len(l.doc.Observations)-attentionLogCap:]
	}
	return l.store.Save(l.doc)
}

func prefixOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
