package service

import (
	"sync"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/entity"
)

const episodeLogCap = 2000

// EpisodeLogDoc is the persisted, capped episode ring buffer.
type EpisodeLogDoc struct {
	Episodes []entity.Episode `json:"episodes"`
}

// EpisodeLog records the outcome of every executed subtask (§4.12 step
// 4), consumed by the tool-success-prior lookup in the decomposer and by
// the pattern detector (C15).
type EpisodeLog struct {
	mu    sync.Mutex
	doc   *EpisodeLogDoc
	store OutboxStore
}

// NewEpisodeLog loads (or initializes) the episode log.
func NewEpisodeLog(store OutboxStore) (*EpisodeLog, error) {
	doc := &EpisodeLogDoc{}
	if err := store.Load(doc); err != nil {
		return nil, err
	}
	return &EpisodeLog{doc: doc, store: store}, nil
}

// Append records one episode, capping the ring buffer at episodeLogCap.
func (l *EpisodeLog) Append(e entity.Episode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.doc.Episodes = append(l.doc.Episodes, e)
	if len(l.doc.Episodes) > episodeLogCap {
		l.doc.Episodes = l.doc.Episodes[len(l.doc.Episodes)-episodeLogCap:]
	}
	return l.store.Save(l.doc)
}

// Recent returns the last n episodes (or all, if fewer exist).
func (l *EpisodeLog) Recent(n int) []entity.Episode {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.doc.Episodes) {
		n = len(l.doc.Episodes)
	}
	return append([]entity.Episode{}, l.doc.Episodes[len(l.doc.Episodes)-n:]...)
}

// ToolSuccessRate computes the fraction of the last n episodes using tool
// that succeeded — the decomposer's prior for picking tool_hints (§4.12
// step 1). Returns 0 successes/0 total when the tool has no history.
func (l *EpisodeLog) ToolSuccessRate(tool string, n int) (successRate float64, total int) {
	for _, e := range l.Recent(n) {
		if e.ToolUsed != tool {
			continue
		}
		total++
		if e.Success {
			successRate++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return successRate / float64(total), total
}
