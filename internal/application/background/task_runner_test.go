package background

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/entity"
	"github.com/amplifyco/novaagent/internal/domain/service"
)

func newTestTaskRunner(t *testing.T, smallLLM service.SmallLLMCaller, notifier service.Notifier) *TaskRunner {
	t.Helper()
	tasks, err := service.NewTaskStore(memStore{})
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}
	episodes, err := service.NewEpisodeLog(memStore{})
	if err != nil {
		t.Fatalf("NewEpisodeLog: %v", err)
	}
	templates, err := service.NewTemplateStore(memStore{})
	if err != nil {
		t.Fatalf("NewTemplateStore: %v", err)
	}
	return NewTaskRunner(tasks, episodes, templates, nil, smallLLM, nil, service.AgentLoopConfig{}, nil, nil, nil, nil, notifier, nil, nil, time.Hour, nil)
}

func TestTaskRunner_Decompose_ParsesValidPlanAndFiltersUnknownTools(t *testing.T) {
	llm := &fakeSmallLLM{resp: `[
		{"description": "check calendar", "tool_hints": ["calendar", "made_up_tool"], "model_tier": "flash", "reversible": true},
		{"description": "send email", "tool_hints": ["email"], "model_tier": "sonnet", "reversible": false}
	]`}
	r := newTestTaskRunner(t, llm, nil)

	subtasks, err := r.decompose(context.Background(), "plan the offsite", []string{"calendar", "email"})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(subtasks))
	}
	if len(subtasks[0].ToolHints) != 1 || subtasks[0].ToolHints[0] != "calendar" {
		t.Errorf("expected unknown tool hint filtered out, got %+v", subtasks[0].ToolHints)
	}
	if subtasks[1].ModelTier != entity.ModelTierSonnet {
		t.Errorf("expected sonnet tier parsed, got %q", subtasks[1].ModelTier)
	}
	if subtasks[0].Status != entity.SubtaskPending {
		t.Errorf("expected subtasks initialized pending, got %q", subtasks[0].Status)
	}
}

func TestTaskRunner_Decompose_EmptyDescriptionsAreDropped(t *testing.T) {
	llm := &fakeSmallLLM{resp: `[{"description": ""}, {"description": "do the thing"}]`}
	r := newTestTaskRunner(t, llm, nil)

	subtasks, err := r.decompose(context.Background(), "goal", nil)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(subtasks) != 1 {
		t.Fatalf("expected the empty-description subtask dropped, got %d", len(subtasks))
	}
}

func TestTaskRunner_Decompose_ErrorsOnLLMFailure(t *testing.T) {
	r := newTestTaskRunner(t, &fakeSmallLLM{err: errors.New("down")}, nil)
	if _, err := r.decompose(context.Background(), "goal", nil); err == nil {
		t.Fatal("expected an error when the small LLM call fails")
	}
}

func TestTaskRunner_Decompose_ErrorsOnAllEmpty(t *testing.T) {
	r := newTestTaskRunner(t, &fakeSmallLLM{resp: `[]`}, nil)
	if _, err := r.decompose(context.Background(), "goal", nil); !errors.Is(err, entity.ErrNoSubtasks) {
		t.Errorf("expected ErrNoSubtasks, got %v", err)
	}
}

func TestSubtaskFailureIsTransient_RateLimitAndTimeoutAreTransient(t *testing.T) {
	cases := []string{
		"Error: rate limit exceeded",
		"Error: request timeout",
		"Error: connection reset by peer",
		"Error: 503 service unavailable",
	}
	for _, finalContent := range cases {
		if !subtaskFailureIsTransient(finalContent) {
			t.Errorf("expected %q classified as transient", finalContent)
		}
	}
}

func TestSubtaskFailureIsTransient_AuthAndBadRequestAreNotTransient(t *testing.T) {
	cases := []string{
		"Error: 401 unauthorized",
		"Error: invalid argument: bad request",
		"Error: content policy violation",
	}
	for _, finalContent := range cases {
		if subtaskFailureIsTransient(finalContent) {
			t.Errorf("expected %q NOT classified as transient", finalContent)
		}
	}
}

func TestSubtaskFailureIsTransient_NonErrorPrefixedFailuresAreNotTransient(t *testing.T) {
	cases := []string{
		"",
		"empty result",
		"Stopped: budget exceeded",
		"Internal error: nil pointer",
	}
	for _, finalContent := range cases {
		if subtaskFailureIsTransient(finalContent) {
			t.Errorf("expected %q NOT classified as transient (only \"Error: \" prefixed failures are)", finalContent)
		}
	}
}

func TestTaskRunner_TryDifferentlyHint_ReturnsTrimmedHint(t *testing.T) {
	r := newTestTaskRunner(t, &fakeSmallLLM{resp: "  try a different API endpoint  "}, nil)
	got := r.tryDifferentlyHint(context.Background(), "call api", "timeout")
	if got != "try a different API endpoint" {
		t.Errorf("expected trimmed hint, got %q", got)
	}
}

func TestTaskRunner_TryDifferentlyHint_EmptyOnError(t *testing.T) {
	r := newTestTaskRunner(t, &fakeSmallLLM{err: errors.New("down")}, nil)
	if got := r.tryDifferentlyHint(context.Background(), "x", "y"); got != "" {
		t.Errorf("expected empty hint on LLM error, got %q", got)
	}
}

func TestTaskRunner_AlternativePlan_ParsesSingleSubtask(t *testing.T) {
	r := newTestTaskRunner(t, &fakeSmallLLM{resp: `{"description": "retry with backoff", "tool_hints": ["email"], "reversible": true}`}, nil)
	alt, err := r.alternativePlan(context.Background(), "goal", &entity.Subtask{Description: "send email"})
	if err != nil {
		t.Fatalf("alternativePlan: %v", err)
	}
	if alt.Description != "retry with backoff" {
		t.Errorf("expected parsed alternative description, got %q", alt.Description)
	}
}

func TestTaskRunner_AlternativePlan_ErrorsOnEmptyDescription(t *testing.T) {
	r := newTestTaskRunner(t, &fakeSmallLLM{resp: `{"description": ""}`}, nil)
	if _, err := r.alternativePlan(context.Background(), "goal", &entity.Subtask{}); err == nil {
		t.Fatal("expected an error for an empty alternative description")
	}
}

func TestTaskRunner_Critique_DefaultsToNeutralPassOnLLMError(t *testing.T) {
	r := newTestTaskRunner(t, &fakeSmallLLM{err: errors.New("down")}, nil)
	score, passed, hint := r.critique(context.Background(), &entity.Task{Goal: "g"})
	if score != 0.5 || !passed || hint != "" {
		t.Errorf("expected neutral pass (0.5, true, \"\"), got (%f, %v, %q)", score, passed, hint)
	}
}

func TestTaskRunner_Critique_ParsesScorePassedHint(t *testing.T) {
	r := newTestTaskRunner(t, &fakeSmallLLM{resp: `{"score": 0.9, "passed": true, "refinement_hint": ""}`}, nil)
	score, passed, _ := r.critique(context.Background(), &entity.Task{Goal: "g", Subtasks: []*entity.Subtask{{Description: "d", Result: "r"}}})
	if score != 0.9 || !passed {
		t.Errorf("expected (0.9, true), got (%f, %v)", score, passed)
	}
}

func TestTaskRunner_RecordEpisode_AppendsSuccessAndFailure(t *testing.T) {
	r := newTestTaskRunner(t, nil, nil)
	r.recordEpisode(&entity.Subtask{Description: "ok", Result: "done", ToolHints: []string{"email"}}, true)
	r.recordEpisode(&entity.Subtask{Description: "bad", Error: "boom"}, false)

	recent := r.episodes.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("expected 2 episodes recorded, got %d", len(recent))
	}
	if !recent[0].Success || recent[0].ToolUsed != "email" {
		t.Errorf("expected first episode success with tool email, got %+v", recent[0])
	}
	if recent[1].Success {
		t.Error("expected second episode recorded as a failure")
	}
}

func TestTaskRunner_DeliverReport_ChunksAndNotifiesSuccess(t *testing.T) {
	notifier := &fakeNotifier{}
	r := newTestTaskRunner(t, nil, notifier)
	task := &entity.Task{
		Goal: "write a huge report", CriticScore: 0.8,
		Subtasks: []*entity.Subtask{{Description: "step 1", Status: entity.SubtaskDone, Result: strings.Repeat("x", 5000)}},
	}
	r.deliverReport(context.Background(), task)

	if len(notifier.sent) < 2 {
		t.Fatalf("expected the oversized report split into multiple chunks, got %d", len(notifier.sent))
	}
	if !strings.Contains(notifier.sent[1], "(continued 2)") {
		t.Errorf("expected a continuation header on the second chunk, got: %s", notifier.sent[1][:30])
	}
}

func TestCloneSubtasks_ResetsRuntimeFieldsButKeepsDefinition(t *testing.T) {
	in := []*entity.Subtask{{
		Description: "call Bob", ToolHints: []string{"calendar"},
		Status: entity.SubtaskDone, Result: "done", Error: "", Attempts: 3,
	}}
	out := cloneSubtasks(in)
	if out[0].Description != "call Bob" {
		t.Errorf("expected description preserved, got %q", out[0].Description)
	}
	if out[0].Status != entity.SubtaskPending || out[0].Result != "" || out[0].Attempts != 0 {
		t.Errorf("expected runtime fields reset, got %+v", out[0])
	}
	// Mutating the clone must not affect the original.
	out[0].Description = "mutated"
	if in[0].Description == "mutated" {
		t.Error("expected clone to be independent of the original")
	}
}

func TestExtractJSON_StripsMarkdownFences(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	if got := extractJSON(in); got != `{"a":1}` {
		t.Errorf("expected fenced JSON extracted, got %q", got)
	}
}

func TestExtractJSON_PlainJSONUnchanged(t *testing.T) {
	in := `{"a":1}`
	if got := extractJSON(in); got != in {
		t.Errorf("expected unchanged plain JSON, got %q", got)
	}
}

func TestChunkTaskReport_ShortTextIsSingleChunk(t *testing.T) {
	if got := ChunkTaskReport("short report"); len(got) != 1 {
		t.Errorf("expected 1 chunk for short text, got %d", len(got))
	}
}

func TestChunkTaskReport_LongTextSplitsAtNewlineBoundary(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString(strings.Repeat("x", 30))
		b.WriteString("\n")
	}
	chunks := ChunkTaskReport(b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > taskReportChunkSize {
			t.Errorf("expected every chunk within %d chars, got %d", taskReportChunkSize, len(c))
		}
	}
}
