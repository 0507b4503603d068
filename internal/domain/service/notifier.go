package service

import "context"

// NotifyLevel is the severity tag carried on every outbound notification
// (§6). It has no effect on delivery mechanics, only on how the channel
// adapter chooses to render it (emoji prefix, color, etc).
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifyWarning NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
	NotifySuccess NotifyLevel = "success"
)

// Notifier is the outbound delivery seam the background jobs (C12-C18)
// push user-facing text through. Implementations must never return to the
// caller in a way that crashes a background loop — a failed send is logged
// and swallowed by the implementation, not escalated (§6: "never throws").
type Notifier interface {
	Notify(ctx context.Context, text string, level NotifyLevel) error
}

// NoOpNotifier discards every notification. Used in tests and in any
// deployment that has not wired a channel adapter yet.
type NoOpNotifier struct{}

func (NoOpNotifier) Notify(ctx context.Context, text string, level NotifyLevel) error {
	return nil
}
