package background

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/entity"
	"github.com/amplifyco/novaagent/internal/domain/service"
	"go.uber.org/zap"
)

const (
	patternEpisodeWindow   = 500
	patternMinOccurrences  = 3
)

type patternGroupKey struct {
	Tool      string
	DayOfWeek string
	HourBucket string
}

// PatternDetector is C15: every 12h it fetches up to 500 recent episodes,
// groups them by (tool, day_of_week, hour_bucket), keeps groups with at
// least 3 occurrences, and asks a small LLM to phrase each as a
// human-readable pattern — falling back to a deterministic
// frequency-count description when the LLM call fails (§4.14).
type PatternDetector struct {
	episodes *service.EpisodeLog
	patterns *service.PatternStore
	smallLLM service.SmallLLMCaller
	location *time.Location
	interval time.Duration
	logger   *zap.Logger

	stopCh chan struct{}
}

// NewPatternDetector wires the C15 loop.
func NewPatternDetector(episodes *service.EpisodeLog, patterns *service.PatternStore, smallLLM service.SmallLLMCaller, location *time.Location, interval time.Duration, logger *zap.Logger) *PatternDetector {
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternDetector{episodes: episodes, patterns: patterns, smallLLM: smallLLM, location: location, interval: interval, logger: logger, stopCh: make(chan struct{})}
}

// Start runs the cadence loop until ctx is cancelled or Stop is called.
func (d *PatternDetector) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

// Stop ends the cadence loop.
func (d *PatternDetector) Stop() { close(d.stopCh) }

func (d *PatternDetector) cycle(ctx context.Context) {
	episodes := d.episodes.Recent(patternEpisodeWindow)
	groups := make(map[patternGroupKey]int)
	for _, e := range episodes {
		if e.ToolUsed == "" {
			continue
		}
		key := patternGroupKey{
			Tool:       e.ToolUsed,
			DayOfWeek:  e.Timestamp.In(d.location).Weekday().String(),
			HourBucket: service.HourBucket(e.Timestamp.In(d.location).Hour()),
		}
		groups[key]++
	}

	type candidate struct {
		key   patternGroupKey
		count int
	}
	var candidates []candidate
	for k, n := range groups {
		if n >= patternMinOccurrences {
			candidates = append(candidates, candidate{k, n})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].count > candidates[j].count })

	var patterns []entity.Pattern
	for _, c := range candidates {
		desc := d.describe(ctx, c.key, c.count)
		patterns = append(patterns, entity.Pattern{
			Description: desc,
			Frequency:   frequencyFor(c.key.DayOfWeek, c.count),
			Tool:        c.key.Tool,
			DayOfWeek:   c.key.DayOfWeek,
			Confidence:  confidenceFor(c.count),
			DetectedAt:  time.Now(),
		})
	}

	if err := d.patterns.Replace(patterns); err != nil {
		d.logger.Warn("pattern detector: failed to persist patterns", zap.Error(err))
	}
}

func (d *PatternDetector) describe(ctx context.Context, key patternGroupKey, count int) string {
	fallback := fmt.Sprintf("%s is used %d times, typically on %s %s", key.Tool, count, key.DayOfWeek, key.HourBucket)
	if d.smallLLM == nil {
		return fallback
	}
	prompt := fmt.Sprintf("Describe this usage pattern in one short sentence: tool=%s, day=%s, time_of_day=%s, occurrences=%d.", key.Tool, key.DayOfWeek, key.HourBucket, count)
	raw, err := d.smallLLM.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(raw) == "" {
		return fallback
	}
	return strings.TrimSpace(raw)
}

func frequencyFor(dayOfWeek string, count int) entity.PatternFrequency {
	switch {
	case count >= 20:
		return entity.FrequencyDaily
	case count >= patternMinOccurrences:
		return entity.FrequencyWeekly
	default:
		return entity.FrequencyIrregular
	}
}

func confidenceFor(count int) float64 {
	c := float64(count) / 20.0
	if c > 1 {
		c = 1
	}
	return c
}
