package background

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/memory"
	"github.com/amplifyco/novaagent/internal/domain/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// HealingSummaryProvider supplies the auto-updater's most recent cycle
// summary for inclusion in the daily digest. The auto-updater (C18)
// implements this; tests can stub it.
type HealingSummaryProvider interface {
	LastCycleSummary() string
}

// DailyDigest is C17: triggers once a day at the configured HH:MM via a
// cron entry, and — since cron fires at most once per matching minute
// already — still checks the digest tracker before sending, so a
// crash-and-restart within the same day never double-sends (§4.16).
type DailyDigest struct {
	tracker    *service.DigestTracker
	counters   *service.DigestCounters
	backlog    *memory.CapabilityBacklog
	healing    HealingSummaryProvider
	notifier   service.Notifier
	location   *time.Location
	sendAtHHMM string
	startedAt  time.Time
	logger     *zap.Logger

	cron   *cron.Cron
	stopCh chan struct{}
}

// NewDailyDigest wires the C17 loop. sendAtHHMM is "HH:MM" in 24h form,
// e.g. "20:00". startedAt is the process start time used to compute
// uptime.
func NewDailyDigest(tracker *service.DigestTracker, counters *service.DigestCounters, backlog *memory.CapabilityBacklog, healing HealingSummaryProvider, notifier service.Notifier, location *time.Location, sendAtHHMM string, startedAt time.Time, logger *zap.Logger) *DailyDigest {
	if location == nil {
		location = time.UTC
	}
	if sendAtHHMM == "" {
		sendAtHHMM = "20:00"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DailyDigest{
		tracker: tracker, counters: counters, backlog: backlog, healing: healing,
		notifier: notifier, location: location, sendAtHHMM: sendAtHHMM, startedAt: startedAt,
		logger: logger, stopCh: make(chan struct{}),
	}
}

// Start schedules the HH:MM cron entry and blocks until ctx is cancelled
// or Stop is called.
func (d *DailyDigest) Start(ctx context.Context) {
	hour, minute := 20, 0
	fmt.Sscanf(d.sendAtHHMM, "%d:%d", &hour, &minute)
	spec := fmt.Sprintf("%d %d * * *", minute, hour)

	d.cron = cron.New(cron.WithLocation(d.location))
	if _, err := d.cron.AddFunc(spec, func() { d.tick(ctx) }); err != nil {
		d.logger.Warn("daily digest: invalid schedule, falling back to 20:00", zap.String("send_at", d.sendAtHHMM), zap.Error(err))
		_, _ = d.cron.AddFunc("0 20 * * *", func() { d.tick(ctx) })
	}
	d.cron.Start()

	select {
	case <-ctx.Done():
	case <-d.stopCh:
	}
	stopCtx := d.cron.Stop()
	<-stopCtx.Done()
}

// Stop ends the cron schedule.
func (d *DailyDigest) Stop() { close(d.stopCh) }

func (d *DailyDigest) tick(ctx context.Context) {
	now := time.Now().In(d.location)
	today := now.Format("2006-01-02")
	if d.tracker.AlreadySentOn(today) {
		return
	}
	report := d.compose(now)
	if d.notifier != nil {
		if err := d.notifier.Notify(ctx, report, service.NotifyInfo); err != nil {
			d.logger.Warn("daily digest: delivery failed", zap.Error(err))
			return
		}
	}
	if err := d.tracker.MarkSent(today); err != nil {
		d.logger.Warn("daily digest: failed to record sent date", zap.Error(err))
	}
	d.counters.Reset()
}

func (d *DailyDigest) compose(now time.Time) string {
	snap := d.counters.Snapshot()
	uptime := now.Sub(d.startedAt)

	var b strings.Builder
	b.WriteString("*Daily Digest — " + now.Format("Jan 2, 2006") + "*\n\n")
	b.WriteString(fmt.Sprintf("Messages handled: %d\nTasks completed: %d\nTool calls: %d\nTask errors: %d\n\n",
		snap.MessagesHandled, snap.TasksCompleted, snap.ToolCalls, snap.TaskErrors))

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if d.backlog != nil {
		entries := d.backlog.Since(startOfDay)
		if len(entries) > 0 {
			b.WriteString(fmt.Sprintf("Capability requests today (%d):\n", len(entries)))
			for _, e := range entries {
				b.WriteString("- " + e.Request + " (" + e.Channel + ")\n")
			}
			b.WriteString("\n")
		}
	}

	if d.healing != nil {
		if summary := d.healing.LastCycleSummary(); summary != "" {
			b.WriteString("Self-healing: " + summary + "\n\n")
		}
	}

	b.WriteString("Uptime: " + formatUptime(uptime))
	return b.String()
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Minute)
	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	if hours == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}
