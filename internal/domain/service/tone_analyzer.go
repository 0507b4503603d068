package service

import (
	"strings"

	"github.com/amplifyco/novaagent/internal/domain/memory"
)

// ToneAnalyzer is a rule-based detector of the working-memory tone field
// from the raw text of a user message, grounded on the original's
// tone_analyzer.py keyword/punctuation heuristics (§4.9 step 6).
type ToneAnalyzer struct{}

// NewToneAnalyzer creates a ToneAnalyzer.
func NewToneAnalyzer() *ToneAnalyzer { return &ToneAnalyzer{} }

var urgentKeywords = []string{"asap", "urgent", "immediately", "right now", "emergency", "critical"}
var stressedKeywords = []string{"stressed", "overwhelmed", "panic", "can't deal", "losing it", "freaking out"}
var relaxedKeywords = []string{"no rush", "whenever", "take your time", "just curious", "casually"}
var formalKeywords = []string{"kindly", "would you please", "dear", "sincerely", "regards"}

// Detect classifies text into one of the five fixed tones (§3).
func (a *ToneAnalyzer) Detect(text string) memory.Tone {
	lower := strings.ToLower(text)

	exclamations := strings.Count(text, "!")
	capsRun := hasLongCapsRun(text)

	switch {
	case containsAnyKeyword(lower, stressedKeywords):
		return memory.ToneStressed
	case containsAnyKeyword(lower, urgentKeywords), exclamations >= 2, capsRun:
		return memory.ToneUrgent
	case containsAnyKeyword(lower, formalKeywords):
		return memory.ToneFormal
	case containsAnyKeyword(lower, relaxedKeywords):
		return memory.ToneRelaxed
	default:
		return memory.ToneNeutral
	}
}

func containsAnyKeyword(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func hasLongCapsRun(s string) bool {
	run := 0
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			run++
			if run >= 6 {
				return true
			}
		} else if r == ' ' {
			continue
		} else {
			run = 0
		}
	}
	return false
}
