package background

import (
	"context"
	"testing"
	"time"

	"github.com/amplifyco/novaagent/internal/domain/memory"
)

type fakeProvider struct {
	stores map[string]*memory.InMemoryVectorStore
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{stores: make(map[string]*memory.InMemoryVectorStore)}
}

func (p *fakeProvider) Collection(name string) (memory.VectorStore, error) {
	s, ok := p.stores[name]
	if !ok {
		s = memory.NewInMemoryVectorStore()
		p.stores[name] = s
	}
	return s, nil
}

func TestMemoryConsolidator_Cycle_PrunesEveryListedChannel(t *testing.T) {
	provider := newFakeProvider()
	collective := memory.NewCollectiveStore(provider, memory.NewSimpleEmbedder(16), nil)
	channels := memory.NewChannelStore(provider, memory.NewSimpleEmbedder(16), collective)
	ctx := context.Background()

	cutoff := time.Now()
	_ = channels.RememberTurn(ctx, memory.ChannelRecord{Channel: memory.ChannelEmail, Text: "old", Timestamp: cutoff.Add(-40 * 24 * time.Hour)})
	_ = channels.RememberTurn(ctx, memory.ChannelRecord{Channel: memory.ChannelTelegram, Text: "old", Timestamp: cutoff.Add(-40 * 24 * time.Hour)})
	_ = channels.RememberTurn(ctx, memory.ChannelRecord{Channel: memory.ChannelEmail, Text: "fresh", Timestamp: cutoff})

	c := NewMemoryConsolidator(channels, []memory.Channel{memory.ChannelEmail, memory.ChannelTelegram}, time.Hour, nil)
	c.cycle(ctx)

	emailRemaining, err := channels.SearchChannel(ctx, memory.ChannelEmail, "old fresh", 10)
	if err != nil {
		t.Fatalf("SearchChannel: %v", err)
	}
	if len(emailRemaining) != 1 || emailRemaining[0].Content != "fresh" {
		t.Errorf("expected only the fresh email turn to remain, got %+v", emailRemaining)
	}

	telegramRemaining, err := channels.SearchChannel(ctx, memory.ChannelTelegram, "old", 10)
	if err != nil {
		t.Fatalf("SearchChannel: %v", err)
	}
	if len(telegramRemaining) != 0 {
		t.Errorf("expected the stale telegram turn pruned, got %+v", telegramRemaining)
	}
}

func TestMemoryConsolidator_Cycle_SkipsUnlistedChannels(t *testing.T) {
	provider := newFakeProvider()
	collective := memory.NewCollectiveStore(provider, memory.NewSimpleEmbedder(16), nil)
	channels := memory.NewChannelStore(provider, memory.NewSimpleEmbedder(16), collective)
	ctx := context.Background()

	cutoff := time.Now()
	_ = channels.RememberTurn(ctx, memory.ChannelRecord{Channel: memory.ChannelSlack, Text: "old", Timestamp: cutoff.Add(-40 * 24 * time.Hour)})

	c := NewMemoryConsolidator(channels, []memory.Channel{memory.ChannelEmail}, time.Hour, nil)
	c.cycle(ctx)

	remaining, err := channels.SearchChannel(ctx, memory.ChannelSlack, "old", 10)
	if err != nil {
		t.Fatalf("SearchChannel: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("expected the unlisted channel left untouched, got %+v", remaining)
	}
}

func TestMemoryConsolidator_StopEndsWarmupWait(t *testing.T) {
	provider := newFakeProvider()
	collective := memory.NewCollectiveStore(provider, memory.NewSimpleEmbedder(16), nil)
	channels := memory.NewChannelStore(provider, memory.NewSimpleEmbedder(16), collective)
	c := NewMemoryConsolidator(channels, nil, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	c.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Start to return promptly after Stop during warmup")
	}
}
