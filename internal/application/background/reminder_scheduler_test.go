package background

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/entity"
	"github.com/amplifyco/novaagent/internal/domain/service"
)

type memStore struct{}

func (memStore) Load(v interface{}) error { return nil }
func (memStore) Save(v interface{}) error { return nil }

type fakeNotifier struct {
	fail  bool
	sent  []string
}

func (f *fakeNotifier) Notify(ctx context.Context, text string, level service.NotifyLevel) error {
	if f.fail {
		return errors.New("delivery failed")
	}
	f.sent = append(f.sent, text)
	return nil
}

func newTestScheduler(t *testing.T, notifier service.Notifier) (*ReminderScheduler, *service.ReminderStore) {
	t.Helper()
	store, err := service.NewReminderStore(memStore{})
	if err != nil {
		t.Fatalf("NewReminderStore: %v", err)
	}
	dlq, err := service.NewDeadLetterQueue(memStore{})
	if err != nil {
		t.Fatalf("NewDeadLetterQueue: %v", err)
	}
	return NewReminderScheduler(store, dlq, notifier, time.UTC, time.Hour, nil), store
}

func TestReminderScheduler_TickOnce_FiresDueReminderAndNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	s, store := newTestScheduler(t, notifier)

	_ = store.Add(&entity.Reminder{ID: "r1", Message: "stand-up in 5", RemindAt: time.Now().Add(-time.Minute)})

	s.tickOnce(context.Background())

	if len(notifier.sent) != 1 || notifier.sent[0] != "stand-up in 5" {
		t.Fatalf("expected the due reminder to be delivered, got %+v", notifier.sent)
	}
	all := store.All()
	if all[0].Status != entity.ReminderFired {
		t.Errorf("expected reminder marked fired, got %q", all[0].Status)
	}
}

func TestReminderScheduler_TickOnce_SkipsNotYetDue(t *testing.T) {
	notifier := &fakeNotifier{}
	s, store := newTestScheduler(t, notifier)

	_ = store.Add(&entity.Reminder{ID: "r1", Message: "later", RemindAt: time.Now().Add(time.Hour)})
	s.tickOnce(context.Background())

	if len(notifier.sent) != 0 {
		t.Errorf("expected no delivery for a not-yet-due reminder, got %+v", notifier.sent)
	}
}

func TestReminderScheduler_TickOnce_RevertsToPendingForRetryOnFailure(t *testing.T) {
	notifier := &fakeNotifier{fail: true}
	s, store := newTestScheduler(t, notifier)

	_ = store.Add(&entity.Reminder{ID: "r1", Message: "flaky", RemindAt: time.Now().Add(-time.Minute)})
	s.tickOnce(context.Background())

	all := store.All()
	if all[0].Status != entity.ReminderPending {
		t.Errorf("expected a failed delivery to revert the reminder to pending for retry, got %q", all[0].Status)
	}

	// A second tick should pick it up again, not skip it as already fired.
	s.tickOnce(context.Background())
	if len(notifier.sent) != 0 {
		t.Errorf("notifier always fails in this test; expected no successful sends, got %+v", notifier.sent)
	}
}

func TestReminderScheduler_TickOnce_RetriesUntilSuccessAcrossTicks(t *testing.T) {
	notifier := &fakeNotifier{fail: true}
	s, store := newTestScheduler(t, notifier)

	_ = store.Add(&entity.Reminder{ID: "r1", Message: "eventually works", RemindAt: time.Now().Add(-time.Minute)})
	s.tickOnce(context.Background())
	if all := store.All(); all[0].Status != entity.ReminderPending {
		t.Fatalf("expected reminder pending after first failed attempt, got %q", all[0].Status)
	}

	notifier.fail = false
	s.tickOnce(context.Background())

	all := store.All()
	if all[0].Status != entity.ReminderFired {
		t.Errorf("expected reminder marked fired once delivery eventually succeeds, got %q", all[0].Status)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("expected exactly one successful delivery, got %+v", notifier.sent)
	}
}

func TestReminderScheduler_TickOnce_DeadLettersAfterThreeFailuresAndGivesUp(t *testing.T) {
	notifier := &fakeNotifier{fail: true}
	store, err := service.NewReminderStore(memStore{})
	if err != nil {
		t.Fatalf("NewReminderStore: %v", err)
	}
	dlq, err := service.NewDeadLetterQueue(memStore{})
	if err != nil {
		t.Fatalf("NewDeadLetterQueue: %v", err)
	}
	s := NewReminderScheduler(store, dlq, notifier, time.UTC, time.Hour, nil)

	_ = store.Add(&entity.Reminder{ID: "r1", Message: "flaky", RemindAt: time.Now().Add(-time.Minute)})
	for i := 0; i < 3; i++ {
		s.tickOnce(context.Background())
	}

	if len(dlq.LastN(10)) == 0 {
		t.Error("expected the repeatedly-failing reminder to be dead-lettered after 3 failures")
	}
	all := store.All()
	if all[0].Status != entity.ReminderFired {
		t.Errorf("expected the dead-lettered reminder to be marked fired (given up on), got %q", all[0].Status)
	}
}

func TestReminderScheduler_StopEndsTheLoop(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeNotifier{})
	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Start to return after Stop")
	}
}
