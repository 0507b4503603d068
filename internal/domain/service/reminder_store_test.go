package service

import (
	"testing"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/entity"
)

func TestReminderStore_AddAndDuePending(t *testing.T) {
	s, err := NewReminderStore(&memStore{})
	if err != nil {
		t.Fatalf("NewReminderStore: %v", err)
	}

	past := &entity.Reminder{ID: "r1", Message: "call mom", RemindAt: time.Now().Add(-time.Minute)}
	future := &entity.Reminder{ID: "r2", Message: "future thing", RemindAt: time.Now().Add(time.Hour)}
	if err := s.Add(past); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(future); err != nil {
		t.Fatalf("Add: %v", err)
	}

	due := s.DuePending(time.Now())
	if len(due) != 1 || due[0].ID != "r1" {
		t.Fatalf("expected only r1 due, got %+v", due)
	}
}

func TestReminderStore_Cancel_OnlyAffectsPending(t *testing.T) {
	s, _ := NewReminderStore(&memStore{})
	r := &entity.Reminder{ID: "r1", RemindAt: time.Now()}
	_ = s.Add(r)
	_ = s.MarkFired("r1")

	if err := s.Cancel("r1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	all := s.All()
	if all[0].Status != entity.ReminderFired {
		t.Errorf("fired reminder should not be cancellable, got status %q", all[0].Status)
	}
}

func TestReminderStore_MarkFired_RemovesFromDuePending(t *testing.T) {
	s, _ := NewReminderStore(&memStore{})
	r := &entity.Reminder{ID: "r1", RemindAt: time.Now().Add(-time.Second)}
	_ = s.Add(r)

	if due := s.DuePending(time.Now()); len(due) != 1 {
		t.Fatalf("expected 1 due reminder before firing, got %d", len(due))
	}
	_ = s.MarkFired("r1")
	if due := s.DuePending(time.Now()); len(due) != 0 {
		t.Errorf("fired reminder should no longer be due, got %d", len(due))
	}
}

func TestReminderStore_MarkDelivering_RemovesFromDuePendingWithoutFiring(t *testing.T) {
	s, _ := NewReminderStore(&memStore{})
	_ = s.Add(&entity.Reminder{ID: "r1", RemindAt: time.Now().Add(-time.Second)})

	_ = s.MarkDelivering("r1")
	if due := s.DuePending(time.Now()); len(due) != 0 {
		t.Errorf("a delivering reminder should not be picked up again, got %d due", len(due))
	}
	all := s.All()
	if all[0].Status != entity.ReminderDelivering {
		t.Errorf("expected status delivering, got %q", all[0].Status)
	}
}

func TestReminderStore_MarkRetry_RevertsDeliveringToDueAgain(t *testing.T) {
	s, _ := NewReminderStore(&memStore{})
	_ = s.Add(&entity.Reminder{ID: "r1", RemindAt: time.Now().Add(-time.Second)})
	_ = s.MarkDelivering("r1")

	_ = s.MarkRetry("r1")
	all := s.All()
	if all[0].Status != entity.ReminderPending {
		t.Errorf("expected status reverted to pending, got %q", all[0].Status)
	}
	if due := s.DuePending(time.Now()); len(due) != 1 {
		t.Errorf("expected the reverted reminder to be due again, got %d", len(due))
	}
}

func TestReminderStore_All_ReturnsIndependentSlice(t *testing.T) {
	s, _ := NewReminderStore(&memStore{})
	_ = s.Add(&entity.Reminder{ID: "r1", RemindAt: time.Now()})

	all := s.All()
	all = append(all, &entity.Reminder{ID: "r2", RemindAt: time.Now()})

	again := s.All()
	if len(again) != 1 {
		t.Errorf("appending to a slice returned by All() must not affect the store's own list, got %d entries", len(again))
	}
}
