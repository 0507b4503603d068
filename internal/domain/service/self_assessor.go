package service

import (
	"context"
	"strings"
)

// ConfidenceLevel is the self-assessor's coarse confidence bucket.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// SelfAssessment is the structured result of the post-reply confidence
// check, grounded on the original's self_assessor.py schema (§4.9 step 5).
type SelfAssessment struct {
	Confidence ConfidenceLevel `json:"confidence"`
	WeakAreas  []string        `json:"weak_areas,omitempty"`
	Suggestion string          `json:"suggestion,omitempty"`
}

const digDeeperSuffix = "\n\nWant me to dig deeper on this?"

// SmallLLMCaller runs a constrained, small-model completion against a
// prompt and returns raw text — the conversation manager supplies this
// via the LLM router's "chat"-tier model.
type SmallLLMCaller interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SelfAssessor evaluates the assistant's own reply before it is sent.
type SelfAssessor struct {
	llm SmallLLMCaller
}

// NewSelfAssessor creates a SelfAssessor backed by a small-tier LLM caller.
func NewSelfAssessor(llm SmallLLMCaller) *SelfAssessor {
	return &SelfAssessor{llm: llm}
}

// Assess runs the self-assessment call. On any LLM failure it degrades to
// a neutral "medium" confidence rather than failing the turn.
func (s *SelfAssessor) Assess(ctx context.Context, userMessage, reply string) SelfAssessment {
	if s.llm == nil {
		return SelfAssessment{Confidence: ConfidenceMedium}
	}
	prompt := "Rate your confidence in this reply as high, medium, or low, " +
		"given the user asked: \"" + userMessage + "\" and you replied: \"" + reply + "\"."
	out, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return SelfAssessment{Confidence: ConfidenceMedium}
	}
	return parseAssessment(out)
}

// ApplySuffix appends the "want me to dig deeper?" suffix only when
// confidence is low.
func (a SelfAssessment) ApplySuffix(reply string) string {
	if a.Confidence == ConfidenceLow {
		return reply + digDeeperSuffix
	}
	return reply
}

func parseAssessment(raw string) SelfAssessment {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "low"):
		return SelfAssessment{Confidence: ConfidenceLow, Suggestion: raw}
	case strings.Contains(lower, "high"):
		return SelfAssessment{Confidence: ConfidenceHigh}
	default:
		return SelfAssessment{Confidence: ConfidenceMedium}
	}
}
