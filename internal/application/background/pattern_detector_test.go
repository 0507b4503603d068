package background

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/entity"
	"github.com/amplifyco/novaagent/internal/domain/service"
)

func newTestPatternDetector(t *testing.T, llm service.SmallLLMCaller) (*PatternDetector, *service.EpisodeLog, *service.PatternStore) {
	t.Helper()
	episodes, err := service.NewEpisodeLog(memStore{})
	if err != nil {
		t.Fatalf("NewEpisodeLog: %v", err)
	}
	patterns, err := service.NewPatternStore(memStore{})
	if err != nil {
		t.Fatalf("NewPatternStore: %v", err)
	}
	return NewPatternDetector(episodes, patterns, llm, time.UTC, time.Hour, nil), episodes, patterns
}

func mondayMorning(hour int) time.Time {
	// 2026-07-27 is a Monday.
	return time.Date(2026, 7, 27, hour, 0, 0, 0, time.UTC)
}

func TestPatternDetector_Cycle_GroupsAndKeepsOnlyFrequentEnough(t *testing.T) {
	d, episodes, patterns := newTestPatternDetector(t, nil)

	for i := 0; i < 3; i++ {
		_ = episodes.Append(entity.Episode{ToolUsed: "email", Timestamp: mondayMorning(8).Add(time.Duration(i) * time.Hour)})
	}
	_ = episodes.Append(entity.Episode{ToolUsed: "calendar", Timestamp: mondayMorning(9)}) // only 1 occurrence

	d.cycle(context.Background())

	all := patterns.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 pattern surviving the 3-occurrence threshold, got %d: %+v", len(all), all)
	}
	if all[0].Tool != "email" {
		t.Errorf("expected the email pattern to survive, got %+v", all[0])
	}
}

func TestPatternDetector_Cycle_SkipsEpisodesWithNoTool(t *testing.T) {
	d, episodes, patterns := newTestPatternDetector(t, nil)
	for i := 0; i < 5; i++ {
		_ = episodes.Append(entity.Episode{Action: "think", Timestamp: mondayMorning(9)})
	}

	d.cycle(context.Background())

	if got := patterns.All(); len(got) != 0 {
		t.Errorf("expected no patterns from tool-less episodes, got %+v", got)
	}
}

func TestPatternDetector_Describe_FallsBackOnLLMError(t *testing.T) {
	d, _, _ := newTestPatternDetector(t, &fakeSmallLLM{err: errors.New("unavailable")})
	desc := d.describe(context.Background(), patternGroupKey{Tool: "email", DayOfWeek: "Monday", HourBucket: "morning"}, 5)
	if desc == "" {
		t.Fatal("expected a non-empty fallback description")
	}
}

func TestPatternDetector_Describe_UsesLLMResultWhenAvailable(t *testing.T) {
	d, _, _ := newTestPatternDetector(t, &fakeSmallLLM{resp: "You tend to send emails Monday mornings."})
	desc := d.describe(context.Background(), patternGroupKey{Tool: "email", DayOfWeek: "Monday", HourBucket: "morning"}, 5)
	if desc != "You tend to send emails Monday mornings." {
		t.Errorf("expected the LLM's phrasing, got %q", desc)
	}
}

func TestPatternDetector_Describe_NilLLMUsesFallback(t *testing.T) {
	d, _, _ := newTestPatternDetector(t, nil)
	desc := d.describe(context.Background(), patternGroupKey{Tool: "email", DayOfWeek: "Monday", HourBucket: "morning"}, 5)
	if desc == "" {
		t.Fatal("expected a non-empty fallback description with a nil LLM")
	}
}

func TestFrequencyFor(t *testing.T) {
	if got := frequencyFor("Monday", 25); got != entity.FrequencyDaily {
		t.Errorf("expected daily for count 25, got %q", got)
	}
	if got := frequencyFor("Monday", 5); got != entity.FrequencyWeekly {
		t.Errorf("expected weekly for count 5, got %q", got)
	}
	if got := frequencyFor("Monday", 1); got != entity.FrequencyIrregular {
		t.Errorf("expected irregular for count 1, got %q", got)
	}
}

func TestConfidenceFor_CapsAtOne(t *testing.T) {
	if got := confidenceFor(40); got != 1 {
		t.Errorf("expected confidence capped at 1, got %f", got)
	}
	if got := confidenceFor(10); got != 0.5 {
		t.Errorf("expected confidence 0.5 for count 10, got %f", got)
	}
}
