package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	novacontext "github.com/amplifyco/novaagent/internal/domain/context"
	"github.com/amplifyco/novaagent/internal/domain/memory"
	domaintool "github.com/amplifyco/novaagent/internal/domain/tool"
	"go.uber.org/zap"
)

// maxToolSteps is the per-turn tool-step figure for the LLM tool loop
// (§4.9 step 4). Nothing reads it: the AgentLoop built for each turn has
// no step limit and keeps calling tools until the LLM stops asking for
// them or the token budget is exhausted.
const maxToolSteps = 8

// TurnRequest is the input of one of one process_message invocation
// (§4.9).
type TurnRequest struct {
	UserID    string
	Channel   memory.Channel
	Text      string
	SystemPrompt string
}

// TurnReply is process_message's result.
type TurnReply struct {
	Text       string
	Confidence ConfidenceLevel
	AwaitingApproval bool
}

// ConversationManager implements the C10 per-turn pipeline: guard/pending
// check, intent classification, context assembly, the LLM tool loop,
// self-assessment, and persistence. One ConversationManager instance
// serves every channel; per-(user,channel) FIFO ordering is enforced by a
// keyed mutex, but turns on different keys run concurrently — so each
// turn builds its own AgentLoop rather than sharing one, since
// AgentLoop.SetHooks is a plain field write with no synchronization of
// its own and two concurrent turns attaching their own PolicyGateHook to
// a shared loop would race.
type ConversationManager struct {
	llm        LLMClient
	registry   domaintool.Registry
	loopConfig AgentLoopConfig
	thalamus   *novacontext.Thalamus
	channels   *memory.ChannelStore
	working    *memory.WorkingMemory
	tone       *ToneAnalyzer
	assessor   *SelfAssessor
	gate       *PolicyGate
	outbox     *Outbox
	dlq        *DeadLetterQueue
	counters   *DigestCounters
	logger     *zap.Logger

	turnLocks sync.Map // key: userID+"|"+channel -> *sync.Mutex
	turnSM    sync.Map // key: userID+"|"+channel -> *TurnStateMachine
}

// NewConversationManager wires the C10 pipeline from its component
// services. llm/registry/loopConfig are used to build a fresh AgentLoop
// for each turn rather than sharing one across concurrent channels.
func NewConversationManager(
	llm LLMClient,
	registry domaintool.Registry,
	loopConfig AgentLoopConfig,
	thalamus *novacontext.Thalamus,
	channels *memory.ChannelStore,
	working *memory.WorkingMemory,
	gate *PolicyGate,
	outbox *Outbox,
	dlq *DeadLetterQueue,
	assessor *SelfAssessor,
	counters *DigestCounters,
	logger *zap.Logger,
) *ConversationManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationManager{
		llm:        llm,
		registry:   registry,
		loopConfig: loopConfig,
		thalamus:   thalamus,
		channels:   channels,
		working:    working,
		tone:       NewToneAnalyzer(),
		assessor:   assessor,
		gate:       gate,
		outbox:     outbox,
		dlq:        dlq,
		counters:   counters,
		logger:     logger,
	}
}

func turnKey(userID string, ch memory.Channel) string {
	return userID + "|" + string(ch)
}

func (m *ConversationManager) lockFor(key string) *sync.Mutex {
	v, _ := m.turnLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (m *ConversationManager) stateMachineFor(key string) *TurnStateMachine {
	v, _ := m.turnSM.LoadOrStore(key, NewTurnStateMachine(m.logger))
	return v.(*TurnStateMachine)
}

// ProcessMessage runs the full C10 pipeline for one inbound message,
// serialized per (user_id, channel) so concurrent messages from the same
// conversation never interleave (§4.9).
func (m *ConversationManager) ProcessMessage(ctx context.Context, req TurnRequest) (*TurnReply, error) {
	key := turnKey(req.UserID, req.Channel)
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	sm := m.stateMachineFor(key)

	// Step 1: pending-action / cancellation guard (§4.6, §4.8).
	if reply := m.checkPendingAction(ctx, req); reply != nil {
		return reply, nil
	}

	if err := sm.Transition(TurnParsingIntent); err != nil {
		sm.Reset()
		_ = sm.Transition(TurnParsingIntent)
	}

	tone := m.tone.Detect(req.Text)
	if m.working != nil {
		_ = m.working.SetTone(tone)
	}

	_ = sm.Transition(TurnThinking)
	m.gate.ResetCounters()

	assembled, err := m.channels.AssembleContext(ctx, req.Text, req.Channel, 5)
	if err != nil {
		m.logger.Warn("conversation manager: context assembly failed", zap.Error(err))
		assembled = &memory.AssembledContext{}
	}

	history := m.thalamus.History(req.UserID)
	llmHistory := make([]LLMMessage, 0, len(history)*2+1)
	for _, t := range history {
		llmHistory = append(llmHistory,
			LLMMessage{Role: "user", Content: t.UserMessage},
			LLMMessage{Role: "assistant", Content: t.AssistantMessage},
		)
	}

	systemPrompt := req.SystemPrompt + "\n\n" + m.thalamus.BudgetBrainContext(assembled.String())

	traceID := fmt.Sprintf("%s-%d", key, time.Now().UnixNano())
	executor := NewToolExecutorAdapter(m.registry, nil, m.logger)
	loop := NewAgentLoop(m.llm, executor, m.loopConfig, m.logger)
	loop.SetHooks(NewPolicyGateHook(m.gate, m.outbox, m.dlq, m.working, traceID, m.logger).WithCounters(m.counters))

	_ = sm.Transition(TurnExecuting)
	result, events := loop.Run(ctx, systemPrompt, req.Text, llmHistory, "")
	for range events {
		// AgentLoop emits progress events on this channel; the interface
		// adapters (telegram/http/ws) drain a copy for live streaming.
		// The conversation manager itself only needs the final result.
	}

	_ = sm.Transition(TurnReflecting)
	reply := result.FinalContent

	assessment := SelfAssessment{Confidence: ConfidenceMedium}
	if m.assessor != nil {
		assessment = m.assessor.Assess(ctx, req.Text, reply)
		reply = assessment.ApplySuffix(reply)
	}

	_ = sm.Transition(TurnResponding)

	m.thalamus.RecordTurn(req.UserID, novacontext.Turn{UserMessage: req.Text, AssistantMessage: reply})
	if err := m.channels.RememberTurn(ctx, memory.ChannelRecord{
		Type:      "turn",
		Channel:   req.Channel,
		Text:      fmt.Sprintf("User: %s\nAssistant: %s", req.Text, reply),
		Timestamp: time.Now(),
		ModelID:   result.ModelUsed,
	}); err != nil {
		m.logger.Warn("conversation manager: failed to persist turn", zap.Error(err))
	}

	sm.Reset()

	if m.counters != nil {
		m.counters.IncMessages()
	}

	return &TurnReply{Text: reply, Confidence: assessment.Confidence}, nil
}

// checkPendingAction implements the confirmation short-circuit: if the
// user has a live pending irreversible action and this message matches
// the fixed confirmation vocabulary, the action is approved and actually
// executed through the C11 registry — not just acknowledged — via a
// fresh PolicyGateHook carrying an approval token, so the same
// gate/outbox/DLQ bookkeeping a normal tool call gets still applies
// (§4.6).
func (m *ConversationManager) checkPendingAction(ctx context.Context, req TurnRequest) *TurnReply {
	if m.working == nil || !memory.IsConfirmation(req.Text) {
		return nil
	}
	action, err := m.working.PopPendingAction("")
	if err != nil || action == nil {
		return nil
	}

	if m.registry == nil || m.gate == nil || m.outbox == nil || m.dlq == nil {
		return &TurnReply{
			Text:       fmt.Sprintf("Confirmed: %s, but no tool registry is wired to execute it.", action.Label),
			Confidence: ConfidenceMedium,
		}
	}

	tool, ok := m.registry.Get(action.ToolName)
	if !ok {
		return &TurnReply{
			Text:       fmt.Sprintf("Confirmed: %s, but %q is no longer registered.", action.Label, action.ToolName),
			Confidence: ConfidenceMedium,
		}
	}

	key := turnKey(req.UserID, req.Channel)
	traceID := fmt.Sprintf("%s-confirm-%d", key, time.Now().UnixNano())
	hook := NewPolicyGateHook(m.gate, m.outbox, m.dlq, m.working, traceID, m.logger).WithCounters(m.counters)
	hook.ApprovalToken = traceID

	if !hook.BeforeToolCall(ctx, action.ToolName, action.Parameters) {
		return &TurnReply{
			Text:       fmt.Sprintf("Confirmed: %s, but the policy gate vetoed it again.", action.Label),
			Confidence: ConfidenceMedium,
		}
	}

	result, execErr := tool.Execute(ctx, action.Parameters)
	success := execErr == nil && result != nil && result.Success
	output := ""
	switch {
	case execErr != nil:
		output = execErr.Error()
	case result != nil:
		output = result.Output
	}
	hook.AfterToolCall(ctx, action.ToolName, output, success)

	if !success {
		errMsg := output
		if result != nil && result.Error != "" {
			errMsg = result.Error
		}
		return &TurnReply{
			Text:       fmt.Sprintf("Confirmed %s, but execution failed: %s", action.Label, errMsg),
			Confidence: ConfidenceMedium,
		}
	}
	return &TurnReply{
		Text:       fmt.Sprintf("Confirmed and executed: %s. %s", action.Label, result.DisplayOrOutput()),
		Confidence: ConfidenceHigh,
	}
}
