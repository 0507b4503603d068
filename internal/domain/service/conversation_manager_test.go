package service

import (
	"context"
	"testing"

	"github.com/amplifyco/novaagent/internal/domain/memory"
	domaintool "github.com/amplifyco/novaagent/internal/domain/tool"
)

// fakeConfirmTool is a minimal domaintool.Tool double that records
// whether Execute was actually invoked, so tests can tell the
// confirmation path executed the action rather than just acknowledging
// it.
type fakeConfirmTool struct {
	name    string
	calls   int
	result  *domaintool.Result
	execErr error
}

func (f *fakeConfirmTool) Name() string                         { return f.name }
func (f *fakeConfirmTool) Description() string                  { return "test tool" }
func (f *fakeConfirmTool) Kind() domaintool.Kind                 { return domaintool.KindEdit }
func (f *fakeConfirmTool) Schema() map[string]interface{}       { return map[string]interface{}{} }
func (f *fakeConfirmTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	f.calls++
	if f.execErr != nil {
		return nil, f.execErr
	}
	return f.result, nil
}

func TestTurnKey_VariesByUserAndChannel(t *testing.T) {
	k1 := turnKey("u1", memory.ChannelTelegram)
	k2 := turnKey("u1", memory.ChannelEmail)
	k3 := turnKey("u2", memory.ChannelTelegram)

	if k1 == k2 || k1 == k3 || k2 == k3 {
		t.Errorf("turn keys should differ per (user,channel): %q %q %q", k1, k2, k3)
	}
	if turnKey("u1", memory.ChannelTelegram) != k1 {
		t.Error("turnKey must be deterministic for the same input")
	}
}

func TestConversationManager_CheckPendingAction_NoMatchWithoutWorkingMemory(t *testing.T) {
	m := &ConversationManager{}
	reply := m.checkPendingAction(context.Background(), TurnRequest{Text: "yes"})
	if reply != nil {
		t.Error("expected nil reply when no working memory is wired")
	}
}

func TestConversationManager_CheckPendingAction_IgnoresNonConfirmation(t *testing.T) {
	wm, err := memory.NewWorkingMemory(fakeMemStore{})
	if err != nil {
		t.Fatalf("NewWorkingMemory: %v", err)
	}
	m := &ConversationManager{working: wm}

	reply := m.checkPendingAction(context.Background(), TurnRequest{Text: "what's the weather"})
	if reply != nil {
		t.Error("non-confirmation text should not be treated as a pending-action reply")
	}
}

func newTestConversationManagerForConfirm(t *testing.T, tool domaintool.Tool) (*ConversationManager, *memory.WorkingMemory) {
	t.Helper()
	wm, err := memory.NewWorkingMemory(fakeMemStore{})
	if err != nil {
		t.Fatalf("NewWorkingMemory: %v", err)
	}
	registry := domaintool.NewInMemoryRegistry()
	if tool != nil {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	gate := NewPolicyGate(map[toolOpKey]RiskLevel{RiskTableKey("email", "send"): RiskIrreversible}, true, nil)
	outbox, _ := NewOutbox(&memStore{})
	dlq, _ := NewDeadLetterQueue(&memStore{})
	m := &ConversationManager{working: wm, registry: registry, gate: gate, outbox: outbox, dlq: dlq}
	return m, wm
}

func TestConversationManager_CheckPendingAction_ExecutesToolAndPops(t *testing.T) {
	tool := &fakeConfirmTool{name: "email", result: &domaintool.Result{Success: true, Output: "sent"}}
	m, wm := newTestConversationManagerForConfirm(t, tool)

	if err := wm.AddPendingAction(memory.PendingAction{
		ToolName: "email", Label: "send email to a@example.com",
		Parameters: map[string]interface{}{"operation": "send", "to": "a@example.com"},
	}); err != nil {
		t.Fatalf("AddPendingAction: %v", err)
	}

	reply := m.checkPendingAction(context.Background(), TurnRequest{Text: "yes do it"})
	if reply == nil {
		t.Fatal("expected a confirmation reply when a pending action exists")
	}
	if reply.Confidence != ConfidenceHigh {
		t.Errorf("confidence: got %v, want %v", reply.Confidence, ConfidenceHigh)
	}
	if tool.calls != 1 {
		t.Errorf("expected the underlying tool to actually execute once, got %d calls", tool.calls)
	}

	// second confirmation with nothing pending should return nil
	if again := m.checkPendingAction(context.Background(), TurnRequest{Text: "yes do it"}); again != nil {
		t.Error("expected nil once the pending action has already been popped")
	}
}

func TestConversationManager_CheckPendingAction_ReportsToolFailure(t *testing.T) {
	tool := &fakeConfirmTool{name: "email", result: &domaintool.Result{Success: false, Error: "smtp down"}}
	m, wm := newTestConversationManagerForConfirm(t, tool)

	if err := wm.AddPendingAction(memory.PendingAction{
		ToolName: "email", Label: "send email to a@example.com",
		Parameters: map[string]interface{}{"operation": "send", "to": "a@example.com"},
	}); err != nil {
		t.Fatalf("AddPendingAction: %v", err)
	}

	reply := m.checkPendingAction(context.Background(), TurnRequest{Text: "yes do it"})
	if reply == nil {
		t.Fatal("expected a reply even when execution fails")
	}
	if tool.calls != 1 {
		t.Errorf("expected the tool to be invoked despite the failure, got %d calls", tool.calls)
	}
	if reply.Confidence != ConfidenceMedium {
		t.Errorf("expected medium confidence on execution failure, got %v", reply.Confidence)
	}
}

func TestConversationManager_CheckPendingAction_UnknownToolDoesNotPanic(t *testing.T) {
	m, wm := newTestConversationManagerForConfirm(t, nil)
	if err := wm.AddPendingAction(memory.PendingAction{ToolName: "ghost", Label: "ghost action"}); err != nil {
		t.Fatalf("AddPendingAction: %v", err)
	}

	reply := m.checkPendingAction(context.Background(), TurnRequest{Text: "yes do it"})
	if reply == nil {
		t.Fatal("expected a reply for a pending action whose tool is no longer registered")
	}
}

func TestLockFor_ReturnsSameMutexForSameKey(t *testing.T) {
	m := &ConversationManager{}
	l1 := m.lockFor("k")
	l2 := m.lockFor("k")
	if l1 != l2 {
		t.Error("lockFor should return the same mutex instance for the same key")
	}
}

func TestStateMachineFor_ReturnsSameInstanceForSameKey(t *testing.T) {
	m := &ConversationManager{}
	sm1 := m.stateMachineFor("k")
	sm2 := m.stateMachineFor("k")
	if sm1 != sm2 {
		t.Error("stateMachineFor should return the same TurnStateMachine instance for the same key")
	}
}
