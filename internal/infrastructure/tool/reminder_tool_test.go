package tool

import (
	"context"
	"testing"

	"github.com/amplifyco/novaagent/internal/domain/service"
)

type fakeReminderStore struct{}

func (fakeReminderStore) Load(v interface{}) error { return nil }
func (fakeReminderStore) Save(v interface{}) error { return nil }

func newTestReminderTool(t *testing.T) *ReminderTool {
	t.Helper()
	store, err := service.NewReminderStore(fakeReminderStore{})
	if err != nil {
		t.Fatalf("NewReminderStore: %v", err)
	}
	return NewReminderTool(store)
}

func TestReminderTool_Execute_SchedulesValidReminder(t *testing.T) {
	tool := newTestReminderTool(t)
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"message":   "call the dentist",
		"remind_at": "2026-08-01T09:00:00Z",
		"user_id":   "u1",
		"channel":   "telegram",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if res.Metadata["id"] == "" {
		t.Error("expected a generated reminder id in metadata")
	}
}

func TestReminderTool_Execute_RejectsEmptyMessage(t *testing.T) {
	tool := newTestReminderTool(t)
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"remind_at": "2026-08-01T09:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected failure for empty message")
	}
}

func TestReminderTool_Execute_RejectsBadRemindAt(t *testing.T) {
	tool := newTestReminderTool(t)
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"message":   "ping",
		"remind_at": "not-a-time",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected failure for malformed remind_at")
	}
}

func TestReminderTool_Name(t *testing.T) {
	tool := newTestReminderTool(t)
	if tool.Name() != "schedule_reminder" {
		t.Errorf("expected name schedule_reminder, got %q", tool.Name())
	}
}
