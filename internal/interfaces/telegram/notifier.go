package telegram

import (
	"context"

	"github.com/amplifyco/novaagent/internal/domain/service"
	"go.uber.org/zap"
)

// levelPrefix maps a notify level to a short emoji tag, matching the
// conventions the adapter already uses for command/error replies.
var levelPrefix = map[service.NotifyLevel]string{
	service.NotifyInfo:    "",
	service.NotifyWarning: "⚠️ ",
	service.NotifyError:   "❌ ",
	service.NotifySuccess: "✅ ",
}

// Notifier delivers background-job text (reminders, digests, task reports,
// attention nudges) to a single fixed chat via the bot adapter, chunking at
// TelegramMessageLimit exactly like a normal chat reply (§6).
type Notifier struct {
	adapter *Adapter
	chatID  int64
	logger  *zap.Logger
}

// NewNotifier binds background notifications to a single chat ID — the
// user's own DM with the bot.
func NewNotifier(adapter *Adapter, chatID int64, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{adapter: adapter, chatID: chatID, logger: logger}
}

// Notify sends text to the bound chat, prefixed per level. It never
// returns an error to a caller that would crash a background loop — send
// failures are logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, text string, level service.NotifyLevel) error {
	out := levelPrefix[level] + text
	if err := n.adapter.SendChunkedMessage(n.chatID, out, "Markdown"); err != nil {
		n.logger.Warn("notify: send failed", zap.String("level", string(level)), zap.Error(err))
		return nil
	}
	return nil
}
