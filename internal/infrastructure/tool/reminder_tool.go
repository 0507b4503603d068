package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/entity"
	domaintool "github.com/amplifyco/novaagent/internal/domain/tool"
	"github.com/amplifyco/novaagent/internal/domain/service"
	"github.com/google/uuid"
)

// ReminderTool lets the agent schedule a one-shot reminder (C12) for the
// current user/channel. It is the one external-collaborator tool that
// never leaves the process: it writes straight into the reminder store
// the scheduler polls.
type ReminderTool struct {
	store *service.ReminderStore
}

// NewReminderTool builds the reminder-scheduling tool.
func NewReminderTool(store *service.ReminderStore) *ReminderTool {
	return &ReminderTool{store: store}
}

func (t *ReminderTool) Name() string          { return "schedule_reminder" }
func (t *ReminderTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *ReminderTool) Description() string {
	return "Schedule a one-time reminder to fire at a future time. Params: message, remind_at (RFC3339), user_id, channel."
}

func (t *ReminderTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message":   map[string]interface{}{"type": "string"},
			"remind_at": map[string]interface{}{"type": "string", "description": "RFC3339 timestamp"},
			"user_id":   map[string]interface{}{"type": "string"},
			"channel":   map[string]interface{}{"type": "string"},
		},
		"required": []string{"message", "remind_at"},
	}
}

func (t *ReminderTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	message, _ := args["message"].(string)
	if message == "" {
		return &domaintool.Result{Success: false, Error: "message is required"}, nil
	}
	remindAtRaw, _ := args["remind_at"].(string)
	remindAt, err := time.Parse(time.RFC3339, remindAtRaw)
	if err != nil {
		return &domaintool.Result{Success: false, Error: "remind_at must be RFC3339: " + err.Error()}, nil
	}
	userID, _ := args["user_id"].(string)
	channel, _ := args["channel"].(string)

	r := &entity.Reminder{
		ID:        uuid.NewString()[:8],
		Message:   message,
		UserID:    userID,
		Channel:   channel,
		RemindAt:  remindAt,
		CreatedAt: time.Now(),
	}
	if err := t.store.Add(r); err != nil {
		return &domaintool.Result{Success: false, Error: "failed to schedule reminder: " + err.Error()}, nil
	}
	return &domaintool.Result{
		Success: true,
		Output:  fmt.Sprintf("Reminder %s scheduled for %s", r.ID, remindAt.Format(time.RFC3339)),
		Metadata: map[string]interface{}{"id": r.ID, "remind_at": remindAt},
	}, nil
}
