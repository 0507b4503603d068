package service

import (
	"context"
	"testing"

	"github.com/amplifyco/novaagent/internal/domain/memory"
)

// fakeMemStore mirrors memStore for packages expecting memory.Store.
type fakeMemStore struct{}

func (fakeMemStore) Load(v interface{}) error { return nil }
func (fakeMemStore) Save(v interface{}) error { return nil }

func newTestWorkingMemory(t *testing.T) *memory.WorkingMemory {
	t.Helper()
	wm, err := memory.NewWorkingMemory(fakeMemStore{})
	if err != nil {
		t.Fatalf("NewWorkingMemory: %v", err)
	}
	return wm
}

func TestPolicyGateHook_BeforeToolCall_AllowsReadWithoutOutboxRecording(t *testing.T) {
	gate := NewPolicyGate(map[toolOpKey]RiskLevel{RiskTableKey("web_fetch", ""): RiskRead}, true, nil)
	outbox, _ := NewOutbox(&memStore{})
	dlq, _ := NewDeadLetterQueue(&memStore{})
	wm := newTestWorkingMemory(t)

	hook := NewPolicyGateHook(gate, outbox, dlq, wm, "trace-1", nil)

	allowed := hook.BeforeToolCall(context.Background(), "web_fetch", map[string]interface{}{"url": "https://example.com"})
	if !allowed {
		t.Fatal("expected read-risk tool call to be allowed")
	}

	hook.AfterToolCall(context.Background(), "web_fetch", "200 OK", true)
	// Read-risk calls never participate in outbox dedup — only
	// RiskIrreversible calls are idempotency-tracked (§4.6).
	dup, _ := outbox.IsDuplicate(hook.lastKey)
	if dup {
		t.Error("expected a read-risk call to never be recorded in the outbox")
	}
}

func TestPolicyGateHook_BeforeToolCall_ReadCallsNeverDeduped(t *testing.T) {
	gate := NewPolicyGate(map[toolOpKey]RiskLevel{RiskTableKey("web_fetch", ""): RiskRead}, true, nil)
	outbox, _ := NewOutbox(&memStore{})
	dlq, _ := NewDeadLetterQueue(&memStore{})
	wm := newTestWorkingMemory(t)

	hook := NewPolicyGateHook(gate, outbox, dlq, wm, "trace-1b", nil)
	args := map[string]interface{}{"url": "https://example.com"}

	if !hook.BeforeToolCall(context.Background(), "web_fetch", args) {
		t.Fatal("first read call should be allowed")
	}
	hook.AfterToolCall(context.Background(), "web_fetch", "200 OK", true)

	if !hook.BeforeToolCall(context.Background(), "web_fetch", args) {
		t.Fatal("an identical read call must re-run, never be suppressed as a duplicate")
	}
}

func TestPolicyGateHook_BeforeToolCall_VetoesIrreversibleAndStashesPending(t *testing.T) {
	gate := NewPolicyGate(map[toolOpKey]RiskLevel{RiskTableKey("email", "send"): RiskIrreversible}, true, nil)
	outbox, _ := NewOutbox(&memStore{})
	dlq, _ := NewDeadLetterQueue(&memStore{})
	wm := newTestWorkingMemory(t)

	hook := NewPolicyGateHook(gate, outbox, dlq, wm, "trace-2", nil)

	args := map[string]interface{}{"operation": "send", "to": "a@example.com"}
	allowed := hook.BeforeToolCall(context.Background(), "email", args)
	if allowed {
		t.Fatal("irreversible call without an approval token must be vetoed")
	}

	action, err := wm.PopPendingAction("")
	if err != nil || action == nil {
		t.Fatalf("expected a pending action to be stashed, got action=%v err=%v", action, err)
	}
	if action.ToolName != "email" {
		t.Errorf("pending action tool name: got %q, want %q", action.ToolName, "email")
	}
}

func TestPolicyGateHook_BeforeToolCall_ApprovalTokenAllowsIrreversible(t *testing.T) {
	gate := NewPolicyGate(map[toolOpKey]RiskLevel{RiskTableKey("email", "send"): RiskIrreversible}, true, nil)
	outbox, _ := NewOutbox(&memStore{})
	dlq, _ := NewDeadLetterQueue(&memStore{})
	wm := newTestWorkingMemory(t)

	hook := NewPolicyGateHook(gate, outbox, dlq, wm, "trace-3", nil)
	hook.ApprovalToken = "approved"

	args := map[string]interface{}{"operation": "send", "to": "a@example.com"}
	if !hook.BeforeToolCall(context.Background(), "email", args) {
		t.Fatal("expected approval token to allow the irreversible call")
	}
}

func TestPolicyGateHook_BeforeToolCall_SuppressesDuplicateIrreversibleCall(t *testing.T) {
	gate := NewPolicyGate(map[toolOpKey]RiskLevel{RiskTableKey("email", "send"): RiskIrreversible}, true, nil)
	outbox, _ := NewOutbox(&memStore{})
	dlq, _ := NewDeadLetterQueue(&memStore{})
	wm := newTestWorkingMemory(t)

	hook := NewPolicyGateHook(gate, outbox, dlq, wm, "trace-4", nil)
	hook.ApprovalToken = "approved"
	args := map[string]interface{}{"operation": "send", "to": "a@example.com"}

	if !hook.BeforeToolCall(context.Background(), "email", args) {
		t.Fatal("first approved call should be allowed")
	}
	hook.AfterToolCall(context.Background(), "email", "sent", true)

	if hook.BeforeToolCall(context.Background(), "email", args) {
		t.Fatal("identical irreversible call should be suppressed as a duplicate once already sent")
	}
}

func TestPolicyGateHook_AfterToolCall_RecordsFailureAndIncrementsCounters(t *testing.T) {
	gate := NewPolicyGate(map[toolOpKey]RiskLevel{RiskTableKey("web_fetch", ""): RiskRead}, true, nil)
	outbox, _ := NewOutbox(&memStore{})
	dlq, _ := NewDeadLetterQueue(&memStore{})
	wm := newTestWorkingMemory(t)
	counters := NewDigestCounters()

	hook := NewPolicyGateHook(gate, outbox, dlq, wm, "trace-5", nil).WithCounters(counters)

	hook.BeforeToolCall(context.Background(), "web_fetch", map[string]interface{}{"url": "x"})
	hook.AfterToolCall(context.Background(), "web_fetch", "boom", false)

	if counters.Snapshot().ToolCalls != 1 {
		t.Errorf("expected ToolCalls counter incremented once, got %d", counters.Snapshot().ToolCalls)
	}
}

var _ AgentHook = (*PolicyGateHook)(nil)
