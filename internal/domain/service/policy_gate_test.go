package service

import "testing"

func TestPolicyGate_Check_DefaultsToWriteForUnknownTool(t *testing.T) {
	g := NewPolicyGate(map[toolOpKey]RiskLevel{}, true, nil)
	allowed, _, risk := g.Check("mystery_tool", "", nil, "trace", "")
	if !allowed {
		t.Fatal("write-level unknown tool should be allowed without approval")
	}
	if risk != RiskWrite {
		t.Errorf("risk: got %q, want %q", risk, RiskWrite)
	}
}

func TestPolicyGate_Check_IrreversibleBlockedInStrictModeWithoutApproval(t *testing.T) {
	risks := map[toolOpKey]RiskLevel{RiskTableKey("email", "send"): RiskIrreversible}
	g := NewPolicyGate(risks, true, nil)

	allowed, reason, risk := g.Check("email", "send", nil, "trace", "")
	if allowed {
		t.Fatal("irreversible call must be blocked without an approval token in strict mode")
	}
	if risk != RiskIrreversible {
		t.Errorf("risk: got %q, want %q", risk, RiskIrreversible)
	}
	if reason == "" {
		t.Error("expected a non-empty block reason")
	}
}

func TestPolicyGate_Check_IrreversibleAllowedWithApprovalToken(t *testing.T) {
	risks := map[toolOpKey]RiskLevel{RiskTableKey("email", "send"): RiskIrreversible}
	g := NewPolicyGate(risks, true, nil)

	allowed, _, _ := g.Check("email", "send", nil, "trace", "approved-token")
	if !allowed {
		t.Fatal("irreversible call with an approval token should be allowed")
	}
}

func TestPolicyGate_Check_NonStrictAllowsIrreversibleWithoutApproval(t *testing.T) {
	risks := map[toolOpKey]RiskLevel{RiskTableKey("email", "send"): RiskIrreversible}
	g := NewPolicyGate(risks, false, nil)

	allowed, _, _ := g.Check("email", "send", nil, "trace", "")
	if !allowed {
		t.Fatal("non-strict mode should not require an approval token")
	}
}

func TestPolicyGate_Check_PerToolCallCap(t *testing.T) {
	g := NewPolicyGate(map[toolOpKey]RiskLevel{RiskTableKey("web_fetch", ""): RiskRead}, true, nil)

	for i := 0; i < perToolCallCap; i++ {
		allowed, _, _ := g.Check("web_fetch", "", nil, "trace", "")
		if !allowed {
			t.Fatalf("call %d should be allowed (cap=%d)", i+1, perToolCallCap)
		}
	}
	allowed, reason, _ := g.Check("web_fetch", "", nil, "trace", "")
	if allowed {
		t.Fatal("call beyond the per-run cap should be blocked")
	}
	if reason != "exceeded" {
		t.Errorf("reason: got %q, want %q", reason, "exceeded")
	}
}

func TestPolicyGate_ResetCounters(t *testing.T) {
	g := NewPolicyGate(map[toolOpKey]RiskLevel{RiskTableKey("web_fetch", ""): RiskRead}, true, nil)
	for i := 0; i < perToolCallCap; i++ {
		g.Check("web_fetch", "", nil, "trace", "")
	}
	g.ResetCounters()
	allowed, _, _ := g.Check("web_fetch", "", nil, "trace", "")
	if !allowed {
		t.Fatal("ResetCounters should clear the per-tool call cap")
	}
}

func TestPolicyGate_SetRisk_OverridesAndFallsBackToDefault(t *testing.T) {
	g := NewPolicyGate(map[toolOpKey]RiskLevel{}, true, nil)
	g.SetRisk("calendar", "", RiskRead)
	g.SetRisk("calendar", "delete_event", RiskIrreversible)

	_, _, risk := g.Check("calendar", "list_events", nil, "trace", "")
	if risk != RiskRead {
		t.Errorf("unmapped op should fall back to tool default: got %q, want %q", risk, RiskRead)
	}

	allowed, _, risk := g.Check("calendar", "delete_event", nil, "trace", "")
	if risk != RiskIrreversible || allowed {
		t.Errorf("delete_event should be irreversible and blocked without approval, got allowed=%v risk=%q", allowed, risk)
	}
}

func TestDefaultRiskTable_MatchesRegisteredToolNames(t *testing.T) {
	risks := DefaultRiskTable()
	want := []toolOpKey{
		RiskTableKey("calendar", "create_event"),
		RiskTableKey("calendar", "delete_event"),
		RiskTableKey("email", "send"),
		RiskTableKey("social_x", "post"),
		RiskTableKey("social_linkedin", "post"),
		RiskTableKey("web_fetch", ""),
		RiskTableKey("bash", ""),
		RiskTableKey("schedule_reminder", ""),
	}
	for _, k := range want {
		if _, ok := risks[k]; !ok {
			t.Errorf("DefaultRiskTable missing entry for %+v", k)
		}
	}
	if risks[RiskTableKey("email", "send")] != RiskIrreversible {
		t.Error("email send must be irreversible")
	}
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	args := map[string]interface{}{"a": 1, "b": "two"}
	k1 := IdempotencyKey("tool", "op", args)
	k2 := IdempotencyKey("tool", "op", args)
	if k1 != k2 {
		t.Error("IdempotencyKey must be deterministic for identical input")
	}
}
