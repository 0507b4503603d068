package background

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/memory"
	"github.com/amplifyco/novaagent/internal/domain/service"
	"go.uber.org/zap"
)

const (
	attentionObservationCap  = 3
	attentionObservationChars = 280
)

var (
	mdLinkRe = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	urlRe    = regexp.MustCompile(`https?://\S+`)
)

// AttentionEngine is C14: every 6h during waking hours, it picks a
// purpose mode from the time of day, assembles memory snippets, and asks
// the LLM for up to 3 short observations (§4.13).
type AttentionEngine struct {
	channels  *memory.ChannelStore
	contacts  *memory.ContactIntelligence
	patterns  *service.PatternStore
	log       *service.AttentionLog
	smallLLM  service.SmallLLMCaller
	notifier  service.Notifier
	location  *time.Location
	interval  time.Duration
	logger    *zap.Logger

	// now is overridden in tests; production always uses time.Now.
	now func() time.Time

	stopCh chan struct{}
}

// NewAttentionEngine wires the C14 loop.
func NewAttentionEngine(
	channels *memory.ChannelStore,
	contacts *memory.ContactIntelligence,
	patterns *service.PatternStore,
	log *service.AttentionLog,
	smallLLM service.SmallLLMCaller,
	notifier service.Notifier,
	location *time.Location,
	interval time.Duration,
	logger *zap.Logger,
) *AttentionEngine {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttentionEngine{
		channels: channels, contacts: contacts, patterns: patterns, log: log,
		smallLLM: smallLLM, notifier: notifier, location: location,
		interval: interval, logger: logger, now: time.Now, stopCh: make(chan struct{}),
	}
}

// Start runs the cadence loop until ctx is cancelled or Stop is called.
func (e *AttentionEngine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

// Stop ends the cadence loop.
func (e *AttentionEngine) Stop() { close(e.stopCh) }

func (e *AttentionEngine) cycle(ctx context.Context) {
	now := e.now().In(e.location)
	if !service.IsWakingHours(now) {
		return
	}
	mode := service.PickPurposeMode(now)

	var snippets strings.Builder
	for _, p := range e.patterns.All() {
		snippets.WriteString("- pattern: " + p.Description + "\n")
	}
	if e.contacts != nil {
		for _, c := range e.contacts.StaleContacts(14 * 24 * time.Hour) {
			snippets.WriteString("- stale contact: " + c.Name + "\n")
		}
	}

	prompt := "Purpose mode: " + string(mode) + "\nContext:\n" + snippets.String() +
		"\nGive up to 3 short observations as a JSON array of strings, no markdown links or URLs."
	raw, err := e.smallLLM.Complete(ctx, prompt)
	if err != nil {
		e.logger.Warn("attention engine: LLM call failed", zap.Error(err))
		return
	}
	var observations []string
	if err := json.Unmarshal([]byte(extractJSON(raw)), &observations); err != nil {
		observations = []string{strings.TrimSpace(raw)}
	}
	if len(observations) > attentionObservationCap {
		observations = observations[:attentionObservationCap]
	}

	for _, obs := range observations {
		clean := sanitizeObservation(obs)
		if clean == "" {
			continue
		}
		if e.log.IsDuplicate(clean, now) {
			continue
		}
		if e.notifier != nil {
			if err := e.notifier.Notify(ctx, clean, service.NotifyInfo); err != nil {
				e.logger.Warn("attention engine: notify failed", zap.Error(err))
				continue
			}
		}
		_ = e.log.Record(clean, string(mode), now)
	}
}

// sanitizeObservation strips markdown links and raw URLs and caps length
// to 280 chars (§4.13).
func sanitizeObservation(s string) string {
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = urlRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) > attentionObservationChars {
		s = s[:attentionObservationChars]
	}
	return s
}
