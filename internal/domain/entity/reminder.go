package entity

import "time"

// ReminderStatus is the lifecycle state of a Reminder.
type ReminderStatus string

const (
	ReminderPending    ReminderStatus = "pending"
	ReminderDelivering ReminderStatus = "delivering"
	ReminderFired      ReminderStatus = "fired"
	ReminderCancelled  ReminderStatus = "cancelled"
)

// Reminder is a one-shot notification scheduled for a future time.
type Reminder struct {
	ID        string         `json:"id"` // 8-char
	Message   string         `json:"message"`
	UserID    string         `json:"user_id"`
	Channel   string         `json:"channel"`
	RemindAt  time.Time      `json:"remind_at"`
	CreatedAt time.Time      `json:"created_at"`
	Status    ReminderStatus `json:"status"`
}

// IsDue reports whether the reminder should fire at the given instant.
func (r *Reminder) IsDue(now time.Time) bool {
	return r.Status == ReminderPending && !r.RemindAt.After(now)
}
