package background

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/memory"
	"github.com/amplifyco/novaagent/internal/domain/service"
)

type fakeMemoryStore struct{}

func (fakeMemoryStore) Load(v interface{}) error { return nil }
func (fakeMemoryStore) Save(v interface{}) error  { return nil }

type fakeHealingProvider struct{ summary string }

func (f fakeHealingProvider) LastCycleSummary() string { return f.summary }

func newTestDigest(t *testing.T, notifier service.Notifier, healing HealingSummaryProvider) (*DailyDigest, *service.DigestTracker, *service.DigestCounters) {
	t.Helper()
	tracker, err := service.NewDigestTracker(memStore{})
	if err != nil {
		t.Fatalf("NewDigestTracker: %v", err)
	}
	counters := service.NewDigestCounters()
	backlog, err := memory.NewCapabilityBacklog(fakeMemoryStore{})
	if err != nil {
		t.Fatalf("NewCapabilityBacklog: %v", err)
	}
	d := NewDailyDigest(tracker, counters, backlog, healing, notifier, time.UTC, "20:00", time.Now().Add(-time.Hour), nil)
	return d, tracker, counters
}

func TestDailyDigest_Tick_SendsAndMarksSentAndResetsCounters(t *testing.T) {
	notifier := &fakeNotifier{}
	d, tracker, counters := newTestDigest(t, notifier, nil)
	counters.IncMessages()
	counters.IncToolCalls()

	d.tick(context.Background())

	if len(notifier.sent) != 1 {
		t.Fatalf("expected exactly 1 digest sent, got %d", len(notifier.sent))
	}
	today := time.Now().UTC().Format("2006-01-02")
	if !tracker.AlreadySentOn(today) {
		t.Error("expected tick to mark today as sent")
	}
	snap := counters.Snapshot()
	if snap.MessagesHandled != 0 || snap.ToolCalls != 0 {
		t.Errorf("expected counters reset after send, got %+v", snap)
	}
}

func TestDailyDigest_Tick_SkipsIfAlreadySentToday(t *testing.T) {
	notifier := &fakeNotifier{}
	d, tracker, _ := newTestDigest(t, notifier, nil)
	today := time.Now().UTC().Format("2006-01-02")
	_ = tracker.MarkSent(today)

	d.tick(context.Background())

	if len(notifier.sent) != 0 {
		t.Errorf("expected no send when already sent today, got %+v", notifier.sent)
	}
}

func TestDailyDigest_Tick_DoesNotMarkSentOnDeliveryFailure(t *testing.T) {
	notifier := &fakeNotifier{fail: true}
	d, tracker, counters := newTestDigest(t, notifier, nil)
	counters.IncMessages()

	d.tick(context.Background())

	today := time.Now().UTC().Format("2006-01-02")
	if tracker.AlreadySentOn(today) {
		t.Error("expected a failed delivery to not mark the digest as sent")
	}
	if counters.Snapshot().MessagesHandled == 0 {
		t.Error("expected counters to survive a failed delivery (not reset)")
	}
}

func TestDailyDigest_Compose_IncludesCountersAndUptime(t *testing.T) {
	d, _, counters := newTestDigest(t, nil, nil)
	counters.IncTasksCompleted()
	counters.IncTaskErrors()

	out := d.compose(time.Now())
	if !strings.Contains(out, "Tasks completed: 1") {
		t.Errorf("expected tasks completed count in digest, got: %s", out)
	}
	if !strings.Contains(out, "Task errors: 1") {
		t.Errorf("expected task errors count in digest, got: %s", out)
	}
	if !strings.Contains(out, "Uptime:") {
		t.Errorf("expected an uptime line, got: %s", out)
	}
}

func TestDailyDigest_Compose_IncludesBacklogEntriesFromToday(t *testing.T) {
	d, _, _ := newTestDigest(t, nil, nil)
	_ = d.backlog.Record("connect to Notion", "telegram")

	out := d.compose(time.Now())
	if !strings.Contains(out, "connect to Notion") {
		t.Errorf("expected the backlog entry in the digest, got: %s", out)
	}
}

func TestDailyDigest_Compose_IncludesHealingSummaryWhenPresent(t *testing.T) {
	d, _, _ := newTestDigest(t, nil, fakeHealingProvider{summary: "patched flaky retry logic"})
	out := d.compose(time.Now())
	if !strings.Contains(out, "patched flaky retry logic") {
		t.Errorf("expected the healing summary in the digest, got: %s", out)
	}
}

func TestFormatUptime_ZeroHoursShowsMinutesOnly(t *testing.T) {
	if got := formatUptime(45 * time.Minute); got != "45m" {
		t.Errorf("expected '45m', got %q", got)
	}
}

func TestFormatUptime_HoursAndMinutes(t *testing.T) {
	if got := formatUptime(2*time.Hour + 15*time.Minute); got != "2h15m" {
		t.Errorf("expected '2h15m', got %q", got)
	}
}
