package context

import (
	"strings"
	"testing"
)

func TestThalamus_BudgetBrainContext_UnderBudgetUnchanged(t *testing.T) {
	th := NewThalamus()
	short := "a short note"
	if got := th.BudgetBrainContext(short); got != short {
		t.Errorf("expected unchanged string under budget, got %q", got)
	}
}

func TestThalamus_BudgetBrainContext_CutsAtLastNewline(t *testing.T) {
	th := NewThalamus()
	line := strings.Repeat("x", 100) + "\n"
	s := strings.Repeat(line, 20) // well over 1600 chars, newline-delimited
	got := th.BudgetBrainContext(s)
	if len(got) >= brainContextCharBudget {
		t.Errorf("expected truncation under the budget, got length %d", len(got))
	}
	if strings.Contains(got, "\x00") {
		t.Error("unexpected NUL byte in truncated output")
	}
	if !strings.HasPrefix(s, got) {
		t.Error("expected the truncated result to be a prefix of the original string")
	}
}

func TestThalamus_BudgetPrinciples_RespectsSmallerBudget(t *testing.T) {
	th := NewThalamus()
	s := strings.Repeat("word ", 500)
	got := th.BudgetPrinciples(s)
	if len(got) > principlesCharBudget {
		t.Errorf("expected result within %d chars, got %d", principlesCharBudget, len(got))
	}
}

func TestThalamus_RecordTurn_AccumulatesUnderCap(t *testing.T) {
	th := NewThalamus()
	for i := 0; i < 5; i++ {
		th.RecordTurn("u1", Turn{UserMessage: "hi", AssistantMessage: "hello"})
	}
	if got := len(th.History("u1")); got != 5 {
		t.Errorf("expected 5 turns recorded, got %d", got)
	}
}

func TestThalamus_RecordTurn_CollapsesBeyondWindow(t *testing.T) {
	th := NewThalamus()
	for i := 0; i < maxHistoryTurns+5; i++ {
		th.RecordTurn("u1", Turn{UserMessage: "message", AssistantMessage: "reply"})
	}
	history := th.History("u1")
	if len(history) > maxHistoryTurns {
		t.Fatalf("expected history capped at %d turns, got %d", maxHistoryTurns, len(history))
	}
	if history[0].UserMessage != "[prior conversation summary]" {
		t.Errorf("expected the first turn to be a synthesized summary, got %q", history[0].UserMessage)
	}
}

func TestThalamus_RecordTurn_IsolatesByUser(t *testing.T) {
	th := NewThalamus()
	th.RecordTurn("u1", Turn{UserMessage: "from u1"})
	th.RecordTurn("u2", Turn{UserMessage: "from u2"})

	if got := th.History("u1"); len(got) != 1 || got[0].UserMessage != "from u1" {
		t.Errorf("expected u1's history isolated, got %+v", got)
	}
	if got := th.History("u2"); len(got) != 1 || got[0].UserMessage != "from u2" {
		t.Errorf("expected u2's history isolated, got %+v", got)
	}
}

func TestThalamus_History_UnknownUserReturnsNil(t *testing.T) {
	th := NewThalamus()
	if got := th.History("ghost"); got != nil {
		t.Errorf("expected nil history for an unknown user, got %+v", got)
	}
}
