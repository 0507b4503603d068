package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/entity"
	"github.com/amplifyco/novaagent/internal/domain/memory"
	"github.com/amplifyco/novaagent/internal/domain/service"
	domaintool "github.com/amplifyco/novaagent/internal/domain/tool"
	"github.com/amplifyco/novaagent/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

const (
	taskReportChunkSize = 3800
	subtaskMaxRetries   = 3
	subtaskGraceWindow  = 10 * time.Second
	templateReuseScore  = 0.7
)

// TaskRunner is the autonomous plane (C13): a 15s-tick single-writer loop
// that pulls one task at a time from the queue and runs it to completion
// via the same LLM+tool loop C10 uses, just-in-time scoped to each
// subtask's tool hints (§4.12).
type TaskRunner struct {
	tasks     *service.TaskStore
	episodes  *service.EpisodeLog
	templates *service.TemplateStore
	llm       service.LLMClient
	smallLLM  service.SmallLLMCaller
	registry  domaintool.Registry
	config    service.AgentLoopConfig
	gate      *service.PolicyGate
	outbox    *service.Outbox
	dlq       *service.DeadLetterQueue
	working   *memory.WorkingMemory
	notifier  service.Notifier
	auditLog  *persistence.JSONFile
	counters  *service.DigestCounters
	logger    *zap.Logger
	tick      time.Duration

	stopCh chan struct{}
}

// NewTaskRunner wires the C13 runner from its dependencies.
func NewTaskRunner(
	tasks *service.TaskStore,
	episodes *service.EpisodeLog,
	templates *service.TemplateStore,
	llm service.LLMClient,
	smallLLM service.SmallLLMCaller,
	registry domaintool.Registry,
	config service.AgentLoopConfig,
	gate *service.PolicyGate,
	outbox *service.Outbox,
	dlq *service.DeadLetterQueue,
	working *memory.WorkingMemory,
	notifier service.Notifier,
	auditLog *persistence.JSONFile,
	counters *service.DigestCounters,
	tick time.Duration,
	logger *zap.Logger,
) *TaskRunner {
	if tick <= 0 {
		tick = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskRunner{
		tasks: tasks, episodes: episodes, templates: templates,
		llm: llm, smallLLM: smallLLM, registry: registry, config: config,
		gate: gate, outbox: outbox, dlq: dlq, working: working,
		notifier: notifier, auditLog: auditLog, counters: counters, tick: tick, logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start runs the poll loop until ctx is cancelled or Stop is called.
func (r *TaskRunner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.runOnce(ctx); err != nil {
				r.logger.Warn("task runner: cycle failed", zap.Error(err))
			}
		}
	}
}

// Stop ends the poll loop.
func (r *TaskRunner) Stop() { close(r.stopCh) }

// runOnce dequeues and fully processes at most one task (§4.12's
// single-writer property: one task runs to completion before the next).
func (r *TaskRunner) runOnce(ctx context.Context) error {
	task, err := r.tasks.DequeueNext()
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}
	r.runTask(ctx, task)
	return nil
}

func (r *TaskRunner) runTask(ctx context.Context, task *entity.Task) {
	defs := r.registry.List()
	toolNames := make([]string, 0, len(defs))
	for _, d := range defs {
		toolNames = append(toolNames, d.Name)
	}

	if tmpl := r.templates.FindByGoal(task.Goal); tmpl != nil {
		task.Subtasks = cloneSubtasks(tmpl.Subtasks)
	} else {
		subtasks, err := r.decompose(ctx, task.Goal, toolNames)
		if err != nil || len(subtasks) == 0 {
			task.Status = entity.TaskFailed
			_ = r.tasks.Save()
			if r.counters != nil {
				r.counters.IncTaskErrors()
			}
			r.notify(ctx, fmt.Sprintf("Task %q could not be decomposed into steps.", task.Goal), service.NotifyError)
			return
		}
		task.Subtasks = subtasks
	}
	_ = r.tasks.Save()

	irreversible := 0
	for _, s := range task.Subtasks {
		if !s.Reversible {
			irreversible++
		}
	}
	r.notify(ctx, fmt.Sprintf("Plan for %q: %d steps (%d irreversible).", task.Goal, len(task.Subtasks), irreversible), service.NotifyInfo)

	for _, subtask := range task.Subtasks {
		if task.IsCancelled() {
			r.logger.Info("task runner: task cancelled mid-run", zap.String("task_id", task.ID))
			return
		}
		if !subtask.Reversible {
			r.notify(ctx, fmt.Sprintf("About to run an irreversible step: %s. Reply 'cancel' within %s to stop it.", subtask.Description, subtaskGraceWindow), service.NotifyWarning)
			time.Sleep(subtaskGraceWindow)
			if task.IsCancelled() {
				return
			}
		}
		r.runSubtask(ctx, task, subtask)
		_ = r.tasks.Save()
	}

	score, passed, hint := r.critique(ctx, task)
	task.CriticScore = score
	if !passed && hint != "" {
		r.notify(ctx, fmt.Sprintf("Refining result for %q: %s", task.Goal, hint), service.NotifyInfo)
	}
	if score >= templateReuseScore {
		_ = r.templates.Save(service.TaskTemplate{Goal: task.Goal, Subtasks: task.Subtasks, Score: score})
	}

	task.Status = entity.TaskDone
	task.UpdatedAt = time.Now()
	_ = r.tasks.Save()
	if r.counters != nil {
		r.counters.IncTasksCompleted()
	}

	if task.NotifyOnComplete {
		r.deliverReport(ctx, task)
	}
}

func (r *TaskRunner) runSubtask(ctx context.Context, task *entity.Task, subtask *entity.Subtask) {
	subtask.Status = entity.SubtaskRunning
	policy := &domaintool.Policy{AllowList: subtask.ToolHints}
	executor := service.NewToolExecutorAdapter(r.registry, policy, r.logger)
	loop := service.NewAgentLoop(r.llm, executor, r.config, r.logger)
	traceID := fmt.Sprintf("%s-subtask", task.ID)
	loop.SetHooks(service.NewPolicyGateHook(r.gate, r.outbox, r.dlq, r.working, traceID, r.logger).WithCounters(r.counters))

	// AgentLoop reports failures through FinalContent ("Error: ...",
	// "Stopped: ...", "Internal error: ...") or leaves it empty.
	subtaskFailed := func(content string) bool {
		return content == "" || strings.HasPrefix(content, "Error: ") ||
			strings.HasPrefix(content, "Stopped: ") || strings.HasPrefix(content, "Internal error: ")
	}

	hint := ""
	var lastErr string
	for attempt := 1; attempt <= subtaskMaxRetries; attempt++ {
		prompt := subtask.Description
		if hint != "" {
			prompt = hint + "\n\n" + prompt
		}
		result, events := loop.Run(ctx, "Execute this delegated subtask precisely.", prompt, nil, "")
		for range events {
		}
		subtask.Attempts = attempt
		if !subtaskFailed(result.FinalContent) {
			subtask.Status = entity.SubtaskDone
			subtask.Result = result.FinalContent
			r.recordEpisode(subtask, true)
			return
		}
		lastErr = result.FinalContent
		if lastErr == "" {
			lastErr = "empty result"
		}
		wait := time.Duration(attempt) * time.Second
		if subtaskFailureIsTransient(result.FinalContent) {
			// Transient/rate-limit: just back off and retry, no LLM hint
			// spend (§4.12 step 4).
			r.logger.Info("task runner: transient subtask failure, retrying",
				zap.String("task_id", task.ID), zap.Int("attempt", attempt), zap.String("error", lastErr))
			time.Sleep(wait)
			continue
		}
		hint = r.tryDifferentlyHint(ctx, subtask.Description, lastErr)
		time.Sleep(wait)
	}

	altSubtask, err := r.alternativePlan(ctx, task.Goal, subtask)
	if err == nil && altSubtask != nil {
		subtask.ReDelegated = true
		subtask.Status = entity.SubtaskReDelegated
		result, events := loop.Run(ctx, "Execute this revised delegated subtask.", altSubtask.Description, nil, "")
		for range events {
		}
		if !subtaskFailed(result.FinalContent) {
			subtask.Status = entity.SubtaskDone
			subtask.Result = result.FinalContent
			r.recordEpisode(subtask, true)
			return
		}
	}

	subtask.Status = entity.SubtaskFailed
	subtask.Error = lastErr
	r.recordEpisode(subtask, false)
	if r.counters != nil {
		r.counters.IncTaskErrors()
	}
}

// subtaskFailureIsTransient reports whether a subtask's failed FinalContent
// came from a transient/rate-limit LLM error (§4.12 step 4) rather than a
// budget stop, a panic, or an empty result — only those get a plain
// sleep-and-retry instead of spending a small-LLM call on a hint.
func subtaskFailureIsTransient(finalContent string) bool {
	msg, ok := strings.CutPrefix(finalContent, "Error: ")
	if !ok {
		return false
	}
	return service.ClassifyError(errors.New(msg), "", "").IsRetryable()
}

func (r *TaskRunner) recordEpisode(subtask *entity.Subtask, success bool) {
	tool := ""
	if len(subtask.ToolHints) > 0 {
		tool = subtask.ToolHints[0]
	}
	outcome := subtask.Result
	if !success {
		outcome = subtask.Error
	}
	_ = r.episodes.Append(entity.Episode{
		Action:   subtask.Description,
		Outcome:  outcome,
		Success:  success,
		ToolUsed: tool,
	})
	if r.auditLog != nil {
		_ = r.auditLog.AppendJSONL(map[string]interface{}{
			"description": subtask.Description,
			"success":     success,
			"attempts":    subtask.Attempts,
			"timestamp":   time.Now(),
		})
	}
}

// decompose asks the small LLM for an ordered subtask plan, validating
// that every tool hint names a known tool (§4.12 step 2).
func (r *TaskRunner) decompose(ctx context.Context, goal string, knownTools []string) ([]*entity.Subtask, error) {
	prompt := fmt.Sprintf(
		"Break this goal into an ordered JSON array of subtasks. Goal: %q. "+
			"Available tools: %s. Each subtask must be an object with fields "+
			"description, tool_hints (array of tool names from the available list), "+
			"model_tier (\"flash\" or \"sonnet\"), verification_criteria, reversible (bool). "+
			"Respond with JSON only.",
		goal, strings.Join(knownTools, ", "),
	)
	raw, err := r.smallLLM.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var rawSubtasks []struct {
		Description          string   `json:"description"`
		ToolHints            []string `json:"tool_hints"`
		ModelTier            string   `json:"model_tier"`
		VerificationCriteria string   `json:"verification_criteria"`
		Reversible           bool     `json:"reversible"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &rawSubtasks); err != nil {
		return nil, fmt.Errorf("parse decomposition: %w", err)
	}
	known := make(map[string]bool, len(knownTools))
	for _, t := range knownTools {
		known[t] = true
	}
	var subtasks []*entity.Subtask
	for _, rs := range rawSubtasks {
		if rs.Description == "" {
			continue
		}
		hints := make([]string, 0, len(rs.ToolHints))
		for _, h := range rs.ToolHints {
			if known[h] {
				hints = append(hints, h)
			}
		}
		tier := entity.ModelTierFlash
		if rs.ModelTier == "sonnet" {
			tier = entity.ModelTierSonnet
		}
		subtasks = append(subtasks, &entity.Subtask{
			Description:          rs.Description,
			ToolHints:            hints,
			ModelTier:            tier,
			VerificationCriteria: rs.VerificationCriteria,
			Reversible:           rs.Reversible,
			Status:               entity.SubtaskPending,
		})
	}
	if len(subtasks) == 0 {
		return nil, entity.ErrNoSubtasks
	}
	return subtasks, nil
}

func (r *TaskRunner) tryDifferentlyHint(ctx context.Context, description, errMsg string) string {
	prompt := fmt.Sprintf("A subtask failed: %q (error: %s). Give one sentence suggesting a different approach.", description, errMsg)
	hint, err := r.smallLLM.Complete(ctx, prompt)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(hint)
}

func (r *TaskRunner) alternativePlan(ctx context.Context, goal string, failed *entity.Subtask) (*entity.Subtask, error) {
	prompt := fmt.Sprintf(
		"Subtask %q (part of goal %q) failed after retries. Propose one alternative "+
			"subtask as a single JSON object with fields description, tool_hints, "+
			"model_tier, verification_criteria, reversible.",
		failed.Description, goal,
	)
	raw, err := r.smallLLM.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var rs struct {
		Description          string   `json:"description"`
		ToolHints            []string `json:"tool_hints"`
		ModelTier            string   `json:"model_tier"`
		VerificationCriteria string   `json:"verification_criteria"`
		Reversible           bool     `json:"reversible"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &rs); err != nil || rs.Description == "" {
		return nil, fmt.Errorf("parse alternative plan: %w", err)
	}
	return &entity.Subtask{Description: rs.Description, ToolHints: rs.ToolHints, Reversible: rs.Reversible}, nil
}

// critique runs the post-run small-LLM evaluation (§4.12 step 5),
// defaulting to a neutral pass when the LLM call fails.
func (r *TaskRunner) critique(ctx context.Context, task *entity.Task) (score float64, passed bool, hint string) {
	var outputs strings.Builder
	for _, s := range task.Subtasks {
		fmt.Fprintf(&outputs, "- %s -> %s\n", s.Description, s.Result)
	}
	prompt := fmt.Sprintf(
		"Goal: %q\nSubtask outputs:\n%s\nRate overall success from 0 to 1 as JSON "+
			"{\"score\": <float>, \"passed\": <bool>, \"refinement_hint\": \"<string>\"}.",
		task.Goal, outputs.String(),
	)
	raw, err := r.smallLLM.Complete(ctx, prompt)
	if err != nil {
		return 0.5, true, ""
	}
	var parsed struct {
		Score          float64 `json:"score"`
		Passed         bool    `json:"passed"`
		RefinementHint string  `json:"refinement_hint"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return 0.5, true, ""
	}
	return parsed.Score, parsed.Passed, parsed.RefinementHint
}

// deliverReport writes the final report and notifies in chunks of at most
// 3800 chars, with "(continued N)" headers on every chunk after the first
// (§4.12 step 7) — distinct from the Telegram adapter's own 4096-char
// chunking, since this is the task-report-specific envelope.
func (r *TaskRunner) deliverReport(ctx context.Context, task *entity.Task) {
	var report strings.Builder
	fmt.Fprintf(&report, "Task complete: %s\nScore: %.2f\n\n", task.Goal, task.CriticScore)
	for i, s := range task.Subtasks {
		fmt.Fprintf(&report, "%d. [%s] %s\n", i+1, s.Status, s.Description)
		if s.Result != "" {
			fmt.Fprintf(&report, "   %s\n", s.Result)
		}
	}
	for i, chunk := range ChunkTaskReport(report.String()) {
		text := chunk
		if i > 0 {
			text = fmt.Sprintf("(continued %d)\n%s", i+1, chunk)
		}
		r.notify(ctx, text, service.NotifySuccess)
	}
}

func (r *TaskRunner) notify(ctx context.Context, text string, level service.NotifyLevel) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, text, level); err != nil {
		r.logger.Warn("task runner: notify failed", zap.Error(err))
	}
}

func cloneSubtasks(in []*entity.Subtask) []*entity.Subtask {
	out := make([]*entity.Subtask, len(in))
	for i, s := range in {
		cp := *s
		cp.Status = entity.SubtaskPending
		cp.Result = ""
		cp.Error = ""
		cp.Attempts = 0
		out[i] = &cp
	}
	return out
}

// extractJSON trims leading/trailing markdown code fences a small model
// commonly wraps JSON output in.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ChunkTaskReport splits text into chunks of at most 3800 chars, breaking
// at the last newline before the limit when possible — the same boundary
// preference as the Telegram chunker, parameterized separately because
// the task-report envelope's limit and header convention are distinct
// from a normal chat reply's.
func ChunkTaskReport(text string) []string {
	const limit = taskReportChunkSize
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > limit {
		cut := limit
		if idx := strings.LastIndexByte(remaining[:limit], '\n'); idx > limit/2 {
			cut = idx
		}
		chunks = append(chunks, remaining[:cut])
		remaining = strings.TrimLeft(remaining[cut:], "\n")
	}
	if len(remaining) > 0 {
		chunks = append(chunks, remaining)
	}
	return chunks
}
