package background

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/memory"
	"github.com/amplifyco/novaagent/internal/domain/service"
)

type fakeSmallLLM struct {
	resp string
	err  error
}

func (f *fakeSmallLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.resp, f.err
}

func newTestAttentionEngine(t *testing.T, llm service.SmallLLMCaller, notifier service.Notifier) (*AttentionEngine, *service.AttentionLog) {
	t.Helper()
	patterns, err := service.NewPatternStore(memStore{})
	if err != nil {
		t.Fatalf("NewPatternStore: %v", err)
	}
	log, err := service.NewAttentionLog(memStore{})
	if err != nil {
		t.Fatalf("NewAttentionLog: %v", err)
	}
	contacts, err := memory.NewContactIntelligence(fakeMemoryStore{})
	if err != nil {
		t.Fatalf("NewContactIntelligence: %v", err)
	}
	e := NewAttentionEngine(nil, contacts, patterns, log, llm, notifier, time.UTC, time.Hour, nil)
	return e, log
}

func TestAttentionEngine_Cycle_SkipsOutsideWakingHours(t *testing.T) {
	notifier := &fakeNotifier{}
	llm := &fakeSmallLLM{resp: `["you should call Bob"]`}
	e, _ := newTestAttentionEngine(t, llm, notifier)

	night := time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return night }
	e.cycle(context.Background())

	if len(notifier.sent) != 0 {
		t.Errorf("expected no observations outside waking hours, got %+v", notifier.sent)
	}
}

func TestAttentionEngine_Cycle_DeliversParsedObservationsWithinCap(t *testing.T) {
	notifier := &fakeNotifier{}
	llm := &fakeSmallLLM{resp: `["first observation", "second observation", "third", "fourth should be dropped"]`}
	e, log := newTestAttentionEngine(t, llm, notifier)

	day := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return day }
	e.cycle(context.Background())

	if len(notifier.sent) != attentionObservationCap {
		t.Fatalf("expected at most %d observations delivered, got %d: %+v", attentionObservationCap, len(notifier.sent), notifier.sent)
	}
	if !log.IsDuplicate("first observation", day) {
		t.Error("expected the delivered observation to be recorded in the attention log")
	}
}

func TestAttentionEngine_Cycle_SuppressesDuplicateWithinTTL(t *testing.T) {
	notifier := &fakeNotifier{}
	llm := &fakeSmallLLM{resp: `["same observation text over and over"]`}
	e, _ := newTestAttentionEngine(t, llm, notifier)

	day := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return day }
	e.cycle(context.Background())
	e.now = func() time.Time { return day.Add(time.Minute) }
	e.cycle(context.Background())

	if len(notifier.sent) != 1 {
		t.Errorf("expected the duplicate observation suppressed on the second cycle, got %+v", notifier.sent)
	}
}

func TestAttentionEngine_Cycle_FallsBackToRawTextOnInvalidJSON(t *testing.T) {
	notifier := &fakeNotifier{}
	llm := &fakeSmallLLM{resp: "just plain prose, not JSON at all"}
	e, _ := newTestAttentionEngine(t, llm, notifier)

	day := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return day }
	e.cycle(context.Background())

	if len(notifier.sent) != 1 || notifier.sent[0] != "just plain prose, not JSON at all" {
		t.Errorf("expected the raw text used as a single observation, got %+v", notifier.sent)
	}
}

func TestAttentionEngine_Cycle_LLMErrorSendsNothing(t *testing.T) {
	notifier := &fakeNotifier{}
	llm := &fakeSmallLLM{err: errors.New("model unavailable")}
	e, _ := newTestAttentionEngine(t, llm, notifier)

	day := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return day }
	e.cycle(context.Background())

	if len(notifier.sent) != 0 {
		t.Errorf("expected no observations when the LLM call errors, got %+v", notifier.sent)
	}
}

func TestSanitizeObservation_StripsLinksURLsAndCapsLength(t *testing.T) {
	in := "Check [this doc](https://example.com/doc) and also https://raw.example.com/x"
	got := sanitizeObservation(in)
	if got == in {
		t.Error("expected sanitization to modify text containing links/URLs")
	}
	if len(got) > attentionObservationChars {
		t.Errorf("expected output capped at %d chars, got %d", attentionObservationChars, len(got))
	}

	long := make([]byte, attentionObservationChars+50)
	for i := range long {
		long[i] = 'a'
	}
	if got := sanitizeObservation(string(long)); len(got) != attentionObservationChars {
		t.Errorf("expected long text capped at %d chars, got %d", attentionObservationChars, len(got))
	}
}

func TestPatternStore_All_EmptyWithoutPatterns(t *testing.T) {
	s, err := service.NewPatternStore(memStore{})
	if err != nil {
		t.Fatalf("NewPatternStore: %v", err)
	}
	if got := s.All(); len(got) != 0 {
		t.Errorf("expected no patterns initially, got %+v", got)
	}
}
