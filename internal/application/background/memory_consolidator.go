package background

import (
	"context"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/memory"
	"go.uber.org/zap"
)

const memoryRetentionWindow = 30 * 24 * time.Hour

// MemoryConsolidator is C16: every 6h, after a 30-minute startup warmup,
// it prunes conversation turns older than 30 days from every known
// channel store. It never touches the collective collections (identity,
// preferences, contacts) — those have no retention window (§4.15).
type MemoryConsolidator struct {
	channels *memory.ChannelStore
	list     []memory.Channel
	warmup   time.Duration
	interval time.Duration
	logger   *zap.Logger

	stopCh chan struct{}
}

// NewMemoryConsolidator wires the C16 loop over the fixed channel set.
func NewMemoryConsolidator(channels *memory.ChannelStore, list []memory.Channel, interval time.Duration, logger *zap.Logger) *MemoryConsolidator {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryConsolidator{channels: channels, list: list, warmup: 30 * time.Minute, interval: interval, logger: logger, stopCh: make(chan struct{})}
}

// Start waits out the warmup window, then runs the cadence loop until ctx
// is cancelled or Stop is called.
func (c *MemoryConsolidator) Start(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-c.stopCh:
		return
	case <-time.After(c.warmup):
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cycle(ctx)
		}
	}
}

// Stop ends the cadence loop (and the warmup wait, if still pending).
func (c *MemoryConsolidator) Stop() { close(c.stopCh) }

func (c *MemoryConsolidator) cycle(ctx context.Context) {
	cutoff := time.Now().Add(-memoryRetentionWindow)
	for _, ch := range c.list {
		deleted, err := c.channels.PruneOlderThan(ctx, ch, cutoff)
		if err != nil {
			c.logger.Warn("memory consolidator: prune failed", zap.String("channel", string(ch)), zap.Error(err))
			continue
		}
		if deleted > 0 {
			c.logger.Info("memory consolidator: pruned turns", zap.String("channel", string(ch)), zap.Int("deleted", deleted))
		}
	}
}
