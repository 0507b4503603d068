package memory

import "testing"

type fakeWMStore struct{}

func (fakeWMStore) Load(v interface{}) error { return nil }
func (fakeWMStore) Save(v interface{}) error  { return nil }

func newTestWorkingMem(t *testing.T) *WorkingMemory {
	t.Helper()
	w, err := NewWorkingMemory(fakeWMStore{})
	if err != nil {
		t.Fatalf("NewWorkingMemory: %v", err)
	}
	return w
}

func TestWorkingMemory_SetAndGetTone(t *testing.T) {
	w := newTestWorkingMem(t)
	if got := w.Tone(); got != ToneNeutral {
		t.Fatalf("expected default tone neutral, got %q", got)
	}
	if err := w.SetTone(ToneUrgent); err != nil {
		t.Fatalf("SetTone: %v", err)
	}
	if got := w.Tone(); got != ToneUrgent {
		t.Errorf("expected tone urgent, got %q", got)
	}
}

func TestWorkingMemory_SetCalibration_TruncatesAt200Chars(t *testing.T) {
	w := newTestWorkingMem(t)
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	if err := w.SetCalibration(string(long)); err != nil {
		t.Fatalf("SetCalibration: %v", err)
	}
	if got := w.Calibration(); len(got) != 200 {
		t.Errorf("expected calibration truncated to 200 chars, got %d", len(got))
	}
}

func TestWorkingMemory_ClearCalibration(t *testing.T) {
	w := newTestWorkingMem(t)
	_ = w.SetCalibration("be terse")
	if err := w.ClearCalibration(); err != nil {
		t.Fatalf("ClearCalibration: %v", err)
	}
	if got := w.Calibration(); got != "" {
		t.Errorf("expected cleared calibration, got %q", got)
	}
}

func TestWorkingMemory_AddUnfinishedItem_EvictsOldestBeyondCap(t *testing.T) {
	w := newTestWorkingMem(t)
	for i := 0; i < maxUnfinishedItems+3; i++ {
		if err := w.AddUnfinishedItem("item"); err != nil {
			t.Fatalf("AddUnfinishedItem: %v", err)
		}
	}
	if len(w.doc.UnfinishedItems) != maxUnfinishedItems {
		t.Errorf("expected %d unfinished items, got %d", maxUnfinishedItems, len(w.doc.UnfinishedItems))
	}
}

func TestWorkingMemory_OpenThreads_PrunesExpired(t *testing.T) {
	w := newTestWorkingMem(t)
	_ = w.AddOpenThread("plan offsite")
	w.doc.OpenThreads[0].StartedAt = w.doc.OpenThreads[0].StartedAt.Add(-openThreadTTL - 1)

	threads, err := w.OpenThreads()
	if err != nil {
		t.Fatalf("OpenThreads: %v", err)
	}
	if len(threads) != 0 {
		t.Errorf("expected the expired thread to be pruned, got %d", len(threads))
	}
}

func TestWorkingMemory_AddOpenThread_EvictsOldestBeyondCap(t *testing.T) {
	w := newTestWorkingMem(t)
	for i := 0; i < maxOpenThreads+2; i++ {
		_ = w.AddOpenThread("topic")
	}
	threads, err := w.OpenThreads()
	if err != nil {
		t.Fatalf("OpenThreads: %v", err)
	}
	if len(threads) != maxOpenThreads {
		t.Errorf("expected %d open threads, got %d", maxOpenThreads, len(threads))
	}
}

func TestWorkingMemory_Corrections_PrunesExpired(t *testing.T) {
	w := newTestWorkingMem(t)
	_ = w.AddCorrection("not Tuesday, Wednesday")
	w.doc.Corrections[0].Timestamp = w.doc.Corrections[0].Timestamp.Add(-correctionTTL - 1)

	corrections, err := w.Corrections()
	if err != nil {
		t.Fatalf("Corrections: %v", err)
	}
	if len(corrections) != 0 {
		t.Errorf("expected the expired correction to be pruned, got %d", len(corrections))
	}
}

func TestWorkingMemory_SetPreference_CapsValuesPerCategory(t *testing.T) {
	w := newTestWorkingMem(t)
	for i := 0; i < maxPreferenceVals+3; i++ {
		if err := w.SetPreference("food", "value"); err != nil {
			t.Fatalf("SetPreference: %v", err)
		}
	}
	if got := len(w.doc.PreferenceProfile["food"]); got != maxPreferenceVals {
		t.Errorf("expected %d values capped, got %d", maxPreferenceVals, got)
	}
}

func TestWorkingMemory_SetPreference_DropsNewCategoryAtCap(t *testing.T) {
	w := newTestWorkingMem(t)
	for i := 0; i < maxPreferenceCats; i++ {
		_ = w.SetPreference(string(rune('a'+i)), "v")
	}
	if err := w.SetPreference("overflow", "v"); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if _, exists := w.doc.PreferenceProfile["overflow"]; exists {
		t.Error("expected a new category beyond the cap to be dropped silently")
	}
	if len(w.doc.PreferenceProfile) != maxPreferenceCats {
		t.Errorf("expected category count to stay at %d, got %d", maxPreferenceCats, len(w.doc.PreferenceProfile))
	}
}

func TestWorkingMemory_TimezoneOverride_SetAndClear(t *testing.T) {
	w := newTestWorkingMem(t)
	if err := w.SetTimezoneOverride("America/New_York"); err != nil {
		t.Fatalf("SetTimezoneOverride: %v", err)
	}
	if got := w.TimezoneOverride(); got != "America/New_York" {
		t.Errorf("expected America/New_York, got %q", got)
	}
	_ = w.SetTimezoneOverride("")
	if got := w.TimezoneOverride(); got != "" {
		t.Errorf("expected cleared override, got %q", got)
	}
}

func TestWorkingMemory_AddPendingAction_ReplacesSameTool(t *testing.T) {
	w := newTestWorkingMem(t)
	_ = w.AddPendingAction(PendingAction{ToolName: "email", Label: "first draft"})
	_ = w.AddPendingAction(PendingAction{ToolName: "email", Label: "second draft"})

	if len(w.doc.PendingActions) != 1 {
		t.Fatalf("expected a second pending action for the same tool to replace, got %d", len(w.doc.PendingActions))
	}
	if w.doc.PendingActions[0].Label != "second draft" {
		t.Errorf("expected the replacement to win, got %+v", w.doc.PendingActions[0])
	}
}

func TestWorkingMemory_PopPendingAction_MatchesByToolAndRemoves(t *testing.T) {
	w := newTestWorkingMem(t)
	_ = w.AddPendingAction(PendingAction{ToolName: "calendar", Label: "create event"})
	_ = w.AddPendingAction(PendingAction{ToolName: "email", Label: "send mail"})

	got, err := w.PopPendingAction("email")
	if err != nil {
		t.Fatalf("PopPendingAction: %v", err)
	}
	if got == nil || got.ToolName != "email" {
		t.Fatalf("expected to pop the email pending action, got %+v", got)
	}
	if len(w.doc.PendingActions) != 1 {
		t.Errorf("expected 1 remaining pending action, got %d", len(w.doc.PendingActions))
	}
}

func TestWorkingMemory_PopPendingAction_EmptyToolMatchesMostRecent(t *testing.T) {
	w := newTestWorkingMem(t)
	_ = w.AddPendingAction(PendingAction{ToolName: "calendar", Label: "first"})
	_ = w.AddPendingAction(PendingAction{ToolName: "email", Label: "second"})

	got, err := w.PopPendingAction("")
	if err != nil {
		t.Fatalf("PopPendingAction: %v", err)
	}
	if got == nil || got.ToolName != "email" {
		t.Fatalf("expected the most recently added action to be popped, got %+v", got)
	}
}

func TestWorkingMemory_PopPendingAction_DropsExpiredEntries(t *testing.T) {
	w := newTestWorkingMem(t)
	_ = w.AddPendingAction(PendingAction{ToolName: "email", Label: "stale"})
	w.doc.PendingActions[0].CreatedAt = w.doc.PendingActions[0].CreatedAt.Add(-pendingActionTTL - 1)

	got, err := w.PopPendingAction("email")
	if err != nil {
		t.Fatalf("PopPendingAction: %v", err)
	}
	if got != nil {
		t.Errorf("expected an expired pending action to not be returned, got %+v", got)
	}
}

func TestWorkingMemory_Touch_IncrementsSessionCounter(t *testing.T) {
	w := newTestWorkingMem(t)
	if err := w.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := w.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if w.doc.SessionCounter != 2 {
		t.Errorf("expected session counter 2, got %d", w.doc.SessionCounter)
	}
	if w.doc.LastActive.IsZero() {
		t.Error("expected LastActive to be stamped")
	}
}

func TestIsConfirmation(t *testing.T) {
	affirmative := []string{"yes", "Yes do it", "DO IT", "confirm", "confirmed", "go ahead", "yep", "yeah", "ok", "Okay", "proceed", "  yes  "}
	for _, s := range affirmative {
		if !IsConfirmation(s) {
			t.Errorf("expected %q to be recognized as a confirmation", s)
		}
	}
	negative := []string{"no", "maybe later", "what time is it", ""}
	for _, s := range negative {
		if IsConfirmation(s) {
			t.Errorf("expected %q to not be recognized as a confirmation", s)
		}
	}
}
