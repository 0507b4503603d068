package telegram

import (
	"strings"
	"testing"
)

func TestChunkMessage_ShortTextIsSingleChunk(t *testing.T) {
	got := ChunkMessage("hello world")
	if len(got) != 1 || got[0] != "hello world" {
		t.Errorf("expected single unchanged chunk, got %+v", got)
	}
}

func TestChunkMessage_SplitsOversizedTextWithinLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString(strings.Repeat("a", 80))
		b.WriteString("\n\n")
	}
	chunks := ChunkMessage(b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for oversized text, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > TelegramMessageLimit {
			t.Errorf("expected every chunk within %d chars, got %d", TelegramMessageLimit, len(c))
		}
	}
}

func TestChunkMessage_PrefersParagraphBoundary(t *testing.T) {
	para := strings.Repeat("x", TelegramMessageLimit-10) + "\n\n" + strings.Repeat("y", 200)
	chunks := ChunkMessage(para)
	if len(chunks) != 2 {
		t.Fatalf("expected a 2-chunk split at the paragraph boundary, got %d", len(chunks))
	}
	if strings.Contains(chunks[0], "y") {
		t.Error("expected the first chunk to end before the second paragraph")
	}
}

func TestChunkMarkdown_ShortTextIsSingleChunk(t *testing.T) {
	got := ChunkMarkdown("some `code` here")
	if len(got) != 1 {
		t.Errorf("expected single chunk for short markdown, got %+v", got)
	}
}

func TestChunkMarkdown_KeepsCodeBlockTogetherInOneChunk(t *testing.T) {
	var b strings.Builder
	b.WriteString(strings.Repeat("a", TelegramMessageLimit-50))
	b.WriteString("\n```go\nfunc main() {}\n```\n")
	b.WriteString(strings.Repeat("b", 100))

	chunks := ChunkMarkdown(b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected the oversized markdown split into multiple chunks, got %d", len(chunks))
	}
	found := false
	for _, c := range chunks {
		if strings.Contains(c, "func main() {}") {
			found = true
			if !strings.Contains(c, "```go") || strings.Count(c, "```")%2 != 0 {
				t.Errorf("expected the chunk holding the code to contain a balanced fence pair, got %q", c)
			}
		}
	}
	if !found {
		t.Fatal("expected the code snippet to survive in some chunk")
	}
}

func TestFixTruncatedCodeBlock_ClosesDanglingFence(t *testing.T) {
	in := "text\n```go\nfunc main() {}\n"
	got := fixTruncatedCodeBlock(in)
	if !strings.HasSuffix(got, "```") {
		t.Errorf("expected a closing fence appended, got %q", got)
	}
}

func TestFixTruncatedCodeBlock_LeavesClosedBlockUnchanged(t *testing.T) {
	in := "text\n```go\nfunc main() {}\n```\nmore text"
	if got := fixTruncatedCodeBlock(in); got != in {
		t.Errorf("expected unchanged text for a properly closed block, got %q", got)
	}
}

func TestTrimLeft_RemovesLeadingWhitespace(t *testing.T) {
	if got := trimLeft("   \n\thello"); got != "hello" {
		t.Errorf("expected leading whitespace trimmed, got %q", got)
	}
}

func TestLastIndexOf_FindsSubstringBeforeMaxPos(t *testing.T) {
	if got := lastIndexOf("abc\n\ndef\n\nghi", "\n\n", 9); got != 3 {
		t.Errorf("expected the only occurrence within the search window, got %d", got)
	}
}

func TestLastIndexOf_ReturnsNegativeOneWhenAbsent(t *testing.T) {
	if got := lastIndexOf("no delimiter here", "\n\n", 100); got != -1 {
		t.Errorf("expected -1 when the substring is absent, got %d", got)
	}
}
