package background

import (
	"context"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/service"
	"go.uber.org/zap"
)

// ReminderScheduler is C12: a 5-10s tick loop that fires due reminders.
// Each due reminder is marked "delivering" before the notifier is called
// (crash-safe against a double-send), but that mark is not terminal: a
// delivery failure reverts the reminder to pending so the next tick
// retries it, until the dead-letter queue's failure threshold is reached
// and the reminder is given up on and marked fired (§4.11, §7).
type ReminderScheduler struct {
	store    *service.ReminderStore
	dlq      *service.DeadLetterQueue
	notifier service.Notifier
	location *time.Location
	tick     time.Duration
	logger   *zap.Logger

	stopCh chan struct{}
}

// NewReminderScheduler wires the C12 loop.
func NewReminderScheduler(store *service.ReminderStore, dlq *service.DeadLetterQueue, notifier service.Notifier, location *time.Location, tick time.Duration, logger *zap.Logger) *ReminderScheduler {
	if tick <= 0 {
		tick = 10 * time.Second
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderScheduler{store: store, dlq: dlq, notifier: notifier, location: location, tick: tick, logger: logger, stopCh: make(chan struct{})}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (s *ReminderScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		}
	}
}

// Stop ends the tick loop.
func (s *ReminderScheduler) Stop() { close(s.stopCh) }

func (s *ReminderScheduler) tickOnce(ctx context.Context) {
	now := time.Now().In(s.location)
	for _, r := range s.store.DuePending(now) {
		if err := s.store.MarkDelivering(r.ID); err != nil {
			s.logger.Warn("reminder scheduler: failed to mark delivering", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		if s.notifier == nil {
			continue
		}
		if err := s.notifier.Notify(ctx, r.Message, service.NotifyInfo); err != nil {
			deadLettered, dlqErr := s.dlq.RecordFailure("reminder:"+r.ID, err.Error(), r.ID)
			if dlqErr != nil {
				s.logger.Warn("reminder scheduler: dlq record failed", zap.Error(dlqErr))
			}
			if deadLettered {
				s.logger.Warn("reminder scheduler: reminder dead-lettered, giving up", zap.String("id", r.ID))
				if markErr := s.store.MarkFired(r.ID); markErr != nil {
					s.logger.Warn("reminder scheduler: failed to mark fired after dead-lettering", zap.String("id", r.ID), zap.Error(markErr))
				}
				continue
			}
			if retryErr := s.store.MarkRetry(r.ID); retryErr != nil {
				s.logger.Warn("reminder scheduler: failed to revert to pending for retry", zap.String("id", r.ID), zap.Error(retryErr))
			}
			continue
		}
		_ = s.dlq.RecordSuccess("reminder:" + r.ID)
		if err := s.store.MarkFired(r.ID); err != nil {
			s.logger.Warn("reminder scheduler: failed to mark fired after delivery", zap.String("id", r.ID), zap.Error(err))
		}
	}
}
