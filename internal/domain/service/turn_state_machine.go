package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// TurnState is the per-turn lifecycle state exposed to the conversation
// manager (C10) — distinct from AgentState, which tracks the ReAct loop's
// own internal stepping. §4.8.
type TurnState string

const (
	TurnIdle             TurnState = "idle"
	TurnParsingIntent    TurnState = "parsing_intent"
	TurnThinking         TurnState = "thinking"
	TurnExecuting        TurnState = "executing"
	TurnReflecting       TurnState = "reflecting"
	TurnResponding       TurnState = "responding"
	TurnAwaitingApproval TurnState = "awaiting_approval"
)

var turnTransitions = map[TurnState]map[TurnState]bool{
	TurnIdle: {
		TurnParsingIntent: true,
	},
	TurnParsingIntent: {
		TurnThinking:         true,
		TurnAwaitingApproval: true,
		TurnIdle:             true,
	},
	TurnThinking: {
		TurnExecuting:        true,
		TurnReflecting:       true,
		TurnAwaitingApproval: true,
		TurnIdle:             true,
	},
	TurnExecuting: {
		TurnThinking:         true,
		TurnReflecting:       true,
		TurnAwaitingApproval: true,
		TurnIdle:             true,
	},
	TurnReflecting: {
		TurnResponding: true,
		TurnIdle:       true,
	},
	TurnResponding: {
		TurnIdle: true,
	},
	TurnAwaitingApproval: {
		TurnParsingIntent: true, // confirmation message re-enters the pipeline
		TurnIdle:          true,
	},
}

// TurnStateMachine tracks one conversation turn's lifecycle state and a
// cooperative cancellation latch. The latch is a plain mutex-guarded
// bool — the original's asyncio.Event has no Go library equivalent in the
// corpus, so this mirrors it directly. Nothing in this module sets or
// polls it: no message handler calls Cancel, the tool loop does not read
// Cancelled, and the task runner's per-subtask check reads the task's
// own status instead.
type TurnStateMachine struct {
	mu        sync.Mutex
	state     TurnState
	cancelled bool
	logger    *zap.Logger
}

// NewTurnStateMachine creates a machine starting in TurnIdle.
func NewTurnStateMachine(logger *zap.Logger) *TurnStateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnStateMachine{state: TurnIdle, logger: logger}
}

// State returns the current state.
func (m *TurnStateMachine) State() TurnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to `to` if the transition is valid.
func (m *TurnStateMachine) Transition(to TurnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed, ok := turnTransitions[m.state]
	if !ok || !allowed[to] {
		return fmt.Errorf("invalid turn transition: %s -> %s", m.state, to)
	}
	m.logger.Debug("turn state transition", zap.String("from", string(m.state)), zap.String("to", string(to)))
	m.state = to
	return nil
}

// Reset returns the machine to idle and clears the cancel latch — called
// at the end of every turn (§4.9 step 6).
func (m *TurnStateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = TurnIdle
	m.cancelled = false
}

// Cancel sets the cooperative cancellation latch.
func (m *TurnStateMachine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = true
}

// Cancelled reports whether the cancellation latch is set; it never
// interrupts anything by itself.
func (m *TurnStateMachine) Cancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}
