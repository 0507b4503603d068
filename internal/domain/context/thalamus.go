package context

import (
	"fmt"
	"strings"
)

// Turn is one conversation-history entry the thalamus windows.
type Turn struct {
	UserMessage string
	AssistantMessage string
}

const (
	brainContextCharBudget = 1600
	principlesCharBudget   = 1200
	maxHistoryTurns        = 20 // 40 messages
	summaryPrefixChars     = 50
	maxSummarizedMessages  = 5
)

// Thalamus enforces the character budgets and conversation-history
// windowing for one turn's context assembly (§4.4). Budgets are
// ≈4 chars/token, expressed directly as character counts; no tokenizer
// (including Pruner's SimpleTokenizer) is called.
type Thalamus struct {
	// histories maps user_id to that user's windowed turn history.
	histories map[string][]Turn
}

// NewThalamus creates an empty per-session thalamus.
func NewThalamus() *Thalamus {
	return &Thalamus{histories: make(map[string][]Turn)}
}

// BudgetBrainContext truncates s to the brain-context budget (1600 chars),
// cutting at the last newline before the limit when the string overflows.
func (t *Thalamus) BudgetBrainContext(s string) string {
	return truncateAtNewline(s, brainContextCharBudget)
}

// BudgetPrinciples truncates s to the principles budget (1200 chars).
func (t *Thalamus) BudgetPrinciples(s string) string {
	return truncateAtNewline(s, principlesCharBudget)
}

// truncateAtNewline cuts s to at most budget chars, preferring to break at
// the last newline before the cutoff so no partial line is emitted.
func truncateAtNewline(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	cut := s[:budget]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		return cut[:idx]
	}
	return cut
}

// RecordTurn appends a turn to user_id's history and collapses the window
// once it exceeds 20 turns (40 messages), per §4.4.
func (t *Thalamus) RecordTurn(userID string, turn Turn) []Turn {
	history := append(t.histories[userID], turn)
	if len(history) > maxHistoryTurns {
		history = collapseHistory(history)
	}
	t.histories[userID] = history
	return history
}

// History returns the current windowed history for user_id.
func (t *Thalamus) History(userID string) []Turn {
	return t.histories[userID]
}

// collapseHistory replaces the oldest tail of turns (enough to bring the
// window back under the cap) with one synthetic "prior conversation
// summary" turn built from the first 50 chars of up to 5 displaced user
// messages (§4.4).
func collapseHistory(history []Turn) []Turn {
	overflow := len(history) - maxHistoryTurns + 1 // +1 room for the summary turn itself
	if overflow <= 0 {
		return history
	}
	if overflow > len(history) {
		overflow = len(history)
	}
	displaced := history[:overflow]
	kept := history[overflow:]

	n := len(displaced)
	if n > maxSummarizedMessages {
		n = maxSummarizedMessages
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		msg := displaced[len(displaced)-n+i].UserMessage
		if len(msg) > summaryPrefixChars {
			msg = msg[:summaryPrefixChars]
		}
		b.WriteString(fmt.Sprintf("- %s\n", msg))
	}
	summary := Turn{
		UserMessage:      "[prior conversation summary]",
		AssistantMessage: b.String(),
	}
	return append([]Turn{summary}, kept...)
}
