package service

import (
	"testing"

	"github.com/amplifyco/novaagent/internal/domain/entity"
)

func TestPatternStore_ReplaceAndAll(t *testing.T) {
	s, err := NewPatternStore(&memStore{})
	if err != nil {
		t.Fatalf("NewPatternStore: %v", err)
	}

	patterns := []entity.Pattern{
		{Description: "emails Monday mornings", Tool: "email", Confidence: 0.8},
		{Description: "weekly status digest", Tool: "email", Confidence: 0.6},
	}
	if err := s.Replace(patterns); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(all))
	}
}

func TestPatternStore_Replace_CapsAtLimit(t *testing.T) {
	s, _ := NewPatternStore(&memStore{})

	patterns := make([]entity.Pattern, patternStoreCap+10)
	for i := range patterns {
		patterns[i] = entity.Pattern{Description: "p"}
	}
	if err := s.Replace(patterns); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(s.All()) != patternStoreCap {
		t.Errorf("expected pattern list capped at %d, got %d", patternStoreCap, len(s.All()))
	}
}

func TestPatternStore_Replace_FullyOverwritesPreviousCycle(t *testing.T) {
	s, _ := NewPatternStore(&memStore{})
	_ = s.Replace([]entity.Pattern{{Description: "old"}, {Description: "old2"}})
	_ = s.Replace([]entity.Pattern{{Description: "new"}})

	all := s.All()
	if len(all) != 1 || all[0].Description != "new" {
		t.Errorf("expected Replace to fully overwrite, got %v", all)
	}
}
