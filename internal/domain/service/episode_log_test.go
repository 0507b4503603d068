package service

import (
	"testing"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/entity"
)

func TestEpisodeLog_AppendAndRecent(t *testing.T) {
	l, err := NewEpisodeLog(&memStore{})
	if err != nil {
		t.Fatalf("NewEpisodeLog: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := l.Append(entity.Episode{Action: "step", ToolUsed: "calendar", Success: true}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent := l.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent episodes, got %d", len(recent))
	}

	all := l.Recent(100)
	if len(all) != 5 {
		t.Errorf("expected 5 total episodes, got %d", len(all))
	}
}

func TestEpisodeLog_Append_StampsTimestampIfZero(t *testing.T) {
	l, _ := NewEpisodeLog(&memStore{})
	_ = l.Append(entity.Episode{Action: "a"})

	got := l.Recent(1)
	if got[0].Timestamp.IsZero() {
		t.Error("expected Append to stamp a timestamp when none is provided")
	}
}

func TestEpisodeLog_Append_CapsRingBuffer(t *testing.T) {
	l, _ := NewEpisodeLog(&memStore{})
	for i := 0; i < episodeLogCap+10; i++ {
		_ = l.Append(entity.Episode{Action: "a", Timestamp: time.Now()})
	}
	all := l.Recent(episodeLogCap + 100)
	if len(all) != episodeLogCap {
		t.Errorf("expected ring buffer capped at %d, got %d", episodeLogCap, len(all))
	}
}

func TestEpisodeLog_ToolSuccessRate(t *testing.T) {
	l, _ := NewEpisodeLog(&memStore{})
	_ = l.Append(entity.Episode{ToolUsed: "email", Success: true})
	_ = l.Append(entity.Episode{ToolUsed: "email", Success: true})
	_ = l.Append(entity.Episode{ToolUsed: "email", Success: false})
	_ = l.Append(entity.Episode{ToolUsed: "calendar", Success: true})

	rate, total := l.ToolSuccessRate("email", 100)
	if total != 3 {
		t.Fatalf("expected 3 email episodes, got %d", total)
	}
	if rate < 0.66 || rate > 0.67 {
		t.Errorf("expected success rate ~0.667, got %f", rate)
	}
}

func TestEpisodeLog_ToolSuccessRate_NoHistory(t *testing.T) {
	l, _ := NewEpisodeLog(&memStore{})
	rate, total := l.ToolSuccessRate("never_used", 100)
	if total != 0 || rate != 0 {
		t.Errorf("expected (0, 0) for a tool with no history, got (%f, %d)", rate, total)
	}
}
