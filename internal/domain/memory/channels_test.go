package memory

import "testing"

func TestResolveChannel_KnownTag(t *testing.T) {
	if got := ResolveChannel("telegram"); got != ChannelTelegram {
		t.Errorf("expected ChannelTelegram, got %q", got)
	}
}

func TestResolveChannel_UnknownTagFallsBackToGeneral(t *testing.T) {
	if got := ResolveChannel("carrier-pigeon"); got != ChannelGeneral {
		t.Errorf("expected ChannelGeneral fallback, got %q", got)
	}
}

func TestResolveChannel_EmptyTagFallsBackToGeneral(t *testing.T) {
	if got := ResolveChannel(""); got != ChannelGeneral {
		t.Errorf("expected ChannelGeneral for empty tag, got %q", got)
	}
}

func TestAllChannels_IncludesEveryKnownChannelPlusGeneral(t *testing.T) {
	all := AllChannels()
	seen := make(map[Channel]bool, len(all))
	for _, c := range all {
		seen[c] = true
	}

	for c := range knownChannels {
		if !seen[c] {
			t.Errorf("AllChannels is missing known channel %q", c)
		}
	}
	if !seen[ChannelGeneral] {
		t.Error("AllChannels must include the general fallback")
	}
	if len(all) != len(knownChannels)+1 {
		t.Errorf("expected %d channels, got %d", len(knownChannels)+1, len(all))
	}
}
