package memory

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestChannelStore() (*ChannelStore, *fakeCollectionProvider) {
	provider := newFakeCollectionProvider()
	collective := NewCollectiveStore(provider, NewSimpleEmbedder(16), &fakeBackupWriter{})
	return NewChannelStore(provider, NewSimpleEmbedder(16), collective), provider
}

func TestChannelStore_RememberTurnAndSearchChannel(t *testing.T) {
	s, _ := newTestChannelStore()
	ctx := context.Background()

	if err := s.RememberTurn(ctx, ChannelRecord{
		Type: "user", Channel: ChannelTelegram, Text: "remind me to call Bob tomorrow", Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("RememberTurn: %v", err)
	}

	results, err := s.SearchChannel(ctx, ChannelTelegram, "call Bob", 5)
	if err != nil {
		t.Fatalf("SearchChannel: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result in the telegram channel, got %d", len(results))
	}
}

func TestChannelStore_RememberTurn_EmptyChannelFallsBackToGeneral(t *testing.T) {
	s, provider := newTestChannelStore()
	ctx := context.Background()

	if err := s.RememberTurn(ctx, ChannelRecord{Text: "untagged note", Timestamp: time.Now()}); err != nil {
		t.Fatalf("RememberTurn: %v", err)
	}

	store, _ := provider.Collection(channelCollectionName(ChannelGeneral))
	n, _ := store.Count(ctx)
	if n != 1 {
		t.Errorf("expected the untagged turn to land in the general collection, got count %d", n)
	}
}

func TestChannelStore_SearchChannel_NeverCrossesChannels(t *testing.T) {
	s, _ := newTestChannelStore()
	ctx := context.Background()

	_ = s.RememberTurn(ctx, ChannelRecord{Channel: ChannelEmail, Text: "quarterly numbers", Timestamp: time.Now()})
	_ = s.RememberTurn(ctx, ChannelRecord{Channel: ChannelTelegram, Text: "quarterly numbers", Timestamp: time.Now()})

	results, err := s.SearchChannel(ctx, ChannelEmail, "quarterly numbers", 10)
	if err != nil {
		t.Fatalf("SearchChannel: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result from the email channel's isolated store, got %d", len(results))
	}
}

func TestChannelStore_AssembleContext_EmptyChannelReadsGeneral(t *testing.T) {
	s, _ := newTestChannelStore()
	ctx := context.Background()

	out, err := s.AssembleContext(ctx, "any query", "", 0)
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if out == nil {
		t.Fatal("expected a non-nil AssembledContext")
	}
}

func TestAssembledContext_String_OmitsEmptySections(t *testing.T) {
	a := &AssembledContext{
		Channel: []*MemoryEntry{{Content: "hello"}},
	}
	rendered := a.String()
	if rendered == "" {
		t.Fatal("expected non-empty rendering when Channel has entries")
	}
	if strings.Contains(rendered, "## Identity") {
		t.Error("expected empty Identity section to be omitted")
	}
	if !strings.Contains(rendered, "## Channel Context") {
		t.Error("expected the Channel Context section to be present")
	}
}

func TestChannelStore_PruneOlderThan_DeletesOnlyStaleTurns(t *testing.T) {
	s, _ := newTestChannelStore()
	ctx := context.Background()
	cutoff := time.Now()

	_ = s.RememberTurn(ctx, ChannelRecord{Channel: ChannelSlack, Text: "old message", Timestamp: cutoff.Add(-time.Hour)})
	_ = s.RememberTurn(ctx, ChannelRecord{Channel: ChannelSlack, Text: "fresh message", Timestamp: cutoff.Add(time.Hour)})

	deleted, err := s.PruneOlderThan(ctx, ChannelSlack, cutoff)
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 stale turn deleted, got %d", deleted)
	}

	remaining, err := s.SearchChannel(ctx, ChannelSlack, "message", 10)
	if err != nil {
		t.Fatalf("SearchChannel: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Content != "fresh message" {
		t.Errorf("expected only the fresh message to remain, got %+v", remaining)
	}
}

func TestChannelStore_PruneOlderThan_IdempotentOnSecondRun(t *testing.T) {
	s, _ := newTestChannelStore()
	ctx := context.Background()
	cutoff := time.Now()
	_ = s.RememberTurn(ctx, ChannelRecord{Channel: ChannelDiscord, Text: "stale", Timestamp: cutoff.Add(-time.Hour)})

	if _, err := s.PruneOlderThan(ctx, ChannelDiscord, cutoff); err != nil {
		t.Fatalf("first PruneOlderThan: %v", err)
	}
	deleted, err := s.PruneOlderThan(ctx, ChannelDiscord, cutoff)
	if err != nil {
		t.Fatalf("second PruneOlderThan: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected re-running prune against an already-pruned channel to delete 0 rows, got %d", deleted)
	}
}

func TestChannelStore_DetectDrift_FlagsAboveThreshold(t *testing.T) {
	s, _ := newTestChannelStore()
	s.SetDriftParams(0.5, 10)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = s.RememberTurn(ctx, ChannelRecord{
			Channel: ChannelX, Text: "turn", Timestamp: time.Now(),
			Metadata: map[string]interface{}{"model_id": "fallback-small"},
		})
	}
	_ = s.RememberTurn(ctx, ChannelRecord{
		Channel: ChannelX, Text: "turn", Timestamp: time.Now(),
		Metadata: map[string]interface{}{"model_id": "primary-large"},
	})

	report, err := s.DetectDrift(ctx, ChannelX, map[string]bool{"fallback-small": true})
	if err != nil {
		t.Fatalf("DetectDrift: %v", err)
	}
	if report.TotalTurns != 5 {
		t.Fatalf("expected 5 total turns, got %d", report.TotalTurns)
	}
	if report.FallbackTurns != 4 {
		t.Errorf("expected 4 fallback turns, got %d", report.FallbackTurns)
	}
	if !report.Flagged {
		t.Error("expected a 0.8 fallback ratio to exceed the 0.5 threshold and flag")
	}
}

func TestChannelStore_DetectDrift_NoTurnsYieldsUnflaggedReport(t *testing.T) {
	s, _ := newTestChannelStore()
	ctx := context.Background()

	report, err := s.DetectDrift(ctx, ChannelWhatsApp, map[string]bool{})
	if err != nil {
		t.Fatalf("DetectDrift: %v", err)
	}
	if report.TotalTurns != 0 || report.Flagged {
		t.Errorf("expected an unflagged empty report, got %+v", report)
	}
}
