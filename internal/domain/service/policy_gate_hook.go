package service

import (
	"context"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/memory"
	"go.uber.org/zap"
)

// PolicyGateHook is the AgentHook that wires the nervous-system services
// (C6 Policy Gate, C7 Outbox, C8 Dead-Letter Queue, C4 Working Memory) into
// the shared ReAct loop, so neither AgentLoop nor the existing
// SecurityHook needs to know about them (§5).
//
// BeforeToolCall runs the full decision chain: risk classification ->
// outbox duplicate check -> approval token check -> veto. A veto does not
// fail the turn; it stashes a pending action in working memory so the
// conversation manager can turn the final reply into a confirmation ask.
type PolicyGateHook struct {
	NoOpHook

	gate     *PolicyGate
	outbox   *Outbox
	dlq      *DeadLetterQueue
	wm       *memory.WorkingMemory
	counters *DigestCounters
	traceID  string
	logger   *zap.Logger
	lastKey  string
	lastRisk RiskLevel

	// ApprovalToken is set by the conversation manager when the user has
	// just confirmed a pending irreversible action (§4.6).
	ApprovalToken string
}

// NewPolicyGateHook creates a hook bound to one conversation turn's trace.
func NewPolicyGateHook(gate *PolicyGate, outbox *Outbox, dlq *DeadLetterQueue, wm *memory.WorkingMemory, traceID string, logger *zap.Logger) *PolicyGateHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyGateHook{gate: gate, outbox: outbox, dlq: dlq, wm: wm, traceID: traceID, logger: logger}
}

// WithCounters attaches the C17 digest counters so every tool call this
// hook sees is reflected in the daily digest's activity tally. Optional —
// a hook with no counters attached just skips the increment.
func (h *PolicyGateHook) WithCounters(counters *DigestCounters) *PolicyGateHook {
	h.counters = counters
	return h
}

// BeforeToolCall implements the gate+outbox veto chain. Tool name carries
// an optional "operation" in args["operation"] (empty string falls back to
// the tool's "_default" risk entry). Outbox dedup/recording (§4.6) only
// applies to RiskIrreversible calls — a repeated read or write re-runs
// normally; only an irreversible side effect (email send, social post,
// calendar delete, ...) must never fire twice for the same args.
func (h *PolicyGateHook) BeforeToolCall(ctx context.Context, toolName string, args map[string]interface{}) bool {
	op, _ := args["operation"].(string)
	risk := h.gate.RiskOf(toolName, op)
	h.lastRisk = risk

	key := IdempotencyKey(toolName, op, args)
	h.lastKey = key
	if risk == RiskIrreversible {
		if dup, _ := h.outbox.IsDuplicate(key); dup {
			h.logger.Info("policy gate: suppressing duplicate side effect", zap.String("tool", toolName), zap.String("key", key))
			return false
		}
	}

	allowed, reason, risk := h.gate.Check(toolName, op, args, h.traceID, h.ApprovalToken)
	if !allowed {
		h.logger.Info("policy gate: blocked tool call", zap.String("tool", toolName), zap.String("reason", reason), zap.String("risk", string(risk)))
		if risk == RiskIrreversible && h.wm != nil {
			h.wm.AddPendingAction(memory.PendingAction{
				ToolName:     toolName,
				Parameters:   args,
				Label:        toolName + "(" + op + ")",
				ProposalText: reason,
				CreatedAt:    time.Now(),
			})
		}
		return false
	}

	if risk == RiskIrreversible {
		if err := h.outbox.RecordPending(key); err != nil {
			h.logger.Warn("policy gate: failed to record pending outbox entry", zap.Error(err))
		}
	}
	return true
}

// AfterToolCall marks the outbox entry sent/failed (irreversible calls
// only, per BeforeToolCall's dedup scoping) and updates the DLQ failure
// counters for every tool regardless of risk. It never returns an error —
// a bookkeeping failure must not surface as a tool-call failure to the
// LLM.
func (h *PolicyGateHook) AfterToolCall(ctx context.Context, toolName string, output string, success bool) {
	key := h.lastKey
	if h.counters != nil {
		h.counters.IncToolCalls()
	}
	if success {
		if h.lastRisk == RiskIrreversible {
			if err := h.outbox.MarkSent(key, output); err != nil {
				h.logger.Debug("policy gate: outbox mark-sent no-op", zap.Error(err))
			}
		}
		if err := h.dlq.RecordSuccess(toolName); err != nil {
			h.logger.Warn("policy gate: dlq record-success failed", zap.Error(err))
		}
		return
	}

	if h.lastRisk == RiskIrreversible {
		if err := h.outbox.MarkFailed(key, output); err != nil {
			h.logger.Debug("policy gate: outbox mark-failed no-op", zap.Error(err))
		}
	}
	deadLettered, err := h.dlq.RecordFailure(toolName, output, h.traceID)
	if err != nil {
		h.logger.Warn("policy gate: dlq record-failure failed", zap.Error(err))
		return
	}
	if deadLettered {
		h.logger.Warn("policy gate: tool dead-lettered after repeated failure", zap.String("tool", toolName))
	}
}

var _ AgentHook = (*PolicyGateHook)(nil)
