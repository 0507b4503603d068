package service

import (
	"testing"
	"time"
)

func TestAttentionLog_IsDuplicate_WithinTTL(t *testing.T) {
	l, err := NewAttentionLog(&memStore{})
	if err != nil {
		t.Fatalf("NewAttentionLog: %v", err)
	}
	now := time.Now()

	if l.IsDuplicate("you have a meeting with Bob at 3pm today", now) {
		t.Fatal("unrecorded text should not be a duplicate")
	}

	if err := l.Record("you have a meeting with Bob at 3pm today", "proactive", now); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if !l.IsDuplicate("you have a meeting with Bob at 3pm today and more stuff after the prefix", now.Add(time.Hour)) {
		t.Error("identical 50-char prefix within TTL should be deduped")
	}
}

func TestAttentionLog_IsDuplicate_ExpiresAfterTTL(t *testing.T) {
	l, _ := NewAttentionLog(&memStore{})
	now := time.Now()
	_ = l.Record("reminder about the quarterly report due Friday", "proactive", now)

	later := now.Add(attentionDedupTTL + time.Minute)
	if l.IsDuplicate("reminder about the quarterly report due Friday", later) {
		t.Error("observation older than the TTL should no longer dedup")
	}
}

func TestAttentionLog_Record_CapsRingBuffer(t *testing.T) {
	l, _ := NewAttentionLog(&memStore{})
	now := time.Now()
	for i := 0; i < attentionLogCap+5; i++ {
		_ = l.Record("distinct observation text number", "mode", now)
	}
	if !l.IsDuplicate("distinct observation text number", now) {
		t.Error("most recent observation should still be present after capping")
	}
}

func TestPrefixOf_ShortStringUnchanged(t *testing.T) {
	if got := prefixOf("short", 50); got != "short" {
		t.Errorf("prefixOf on a short string: got %q, want %q", got, "short")
	}
}

func TestPrefixOf_TrimsWhitespaceBeforeTruncating(t *testing.T) {
	if got := prefixOf("  padded text  ", 6); got != "padded" {
		t.Errorf("prefixOf: got %q, want %q", got, "padded")
	}
}
