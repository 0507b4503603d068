package service

import "sync/atomic"

// DigestCounters accumulates the rolling activity counts the daily
// digest (C17) summarizes: messages handled, tasks completed, tool
// calls, and task errors. Reset is called once the digest is sent so the
// next day starts from zero.
type DigestCounters struct {
	messagesHandled int64
	tasksCompleted  int64
	toolCalls       int64
	taskErrors      int64
}

// NewDigestCounters creates a zeroed counter set.
func NewDigestCounters() *DigestCounters { return &DigestCounters{} }

func (c *DigestCounters) IncMessages()      { atomic.AddInt64(&c.messagesHandled, 1) }
func (c *DigestCounters) IncTasksCompleted() { atomic.AddInt64(&c.tasksCompleted, 1) }
func (c *DigestCounters) IncToolCalls()      { atomic.AddInt64(&c.toolCalls, 1) }
func (c *DigestCounters) IncTaskErrors()     { atomic.AddInt64(&c.taskErrors, 1) }

// DigestSnapshot is a point-in-time read of the counters.
type DigestSnapshot struct {
	MessagesHandled int64
	TasksCompleted  int64
	ToolCalls       int64
	TaskErrors      int64
}

// Snapshot reads the current counts.
func (c *DigestCounters) Snapshot() DigestSnapshot {
	return DigestSnapshot{
		MessagesHandled: atomic.LoadInt64(&c.messagesHandled),
		TasksCompleted:  atomic.LoadInt64(&c.tasksCompleted),
		ToolCalls:       atomic.LoadInt64(&c.toolCalls),
		TaskErrors:      atomic.LoadInt64(&c.taskErrors),
	}
}

// Reset zeroes every counter — called after the digest is delivered.
func (c *DigestCounters) Reset() {
	atomic.StoreInt64(&c.messagesHandled, 0)
	atomic.StoreInt64(&c.tasksCompleted, 0)
	atomic.StoreInt64(&c.toolCalls, 0)
	atomic.StoreInt64(&c.taskErrors, 0)
}
