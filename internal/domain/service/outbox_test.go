package service

import "testing"

// memStore is a minimal in-memory OutboxStore/DeadLetterStore/etc. fake —
// Load leaves v untouched (an empty store) and Save keeps a reference to
// the last value saved, without touching the filesystem.
type memStore struct {
	saved interface{}
}

func (m *memStore) Load(v interface{}) error {
	return nil
}

func (m *memStore) Save(v interface{}) error {
	m.saved = v
	return nil
}

func TestOutbox_PendingThenSent_IsDuplicate(t *testing.T) {
	ob, err := NewOutbox(&memStore{})
	if err != nil {
		t.Fatalf("NewOutbox: %v", err)
	}

	key := IdempotencyKey("email", "send", map[string]interface{}{"to": "a@example.com"})

	if dup, _ := ob.IsDuplicate(key); dup {
		t.Fatal("fresh key should not be duplicate")
	}

	if err := ob.RecordPending(key); err != nil {
		t.Fatalf("RecordPending: %v", err)
	}
	if dup, _ := ob.IsDuplicate(key); dup {
		t.Fatal("pending key should not count as duplicate")
	}

	if err := ob.MarkSent(key, "ok"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	dup, result := ob.IsDuplicate(key)
	if !dup {
		t.Fatal("sent key should be a duplicate")
	}
	if result != "ok" {
		t.Errorf("result: got %q, want %q", result, "ok")
	}
}

func TestOutbox_MarkFailed_NotDuplicate(t *testing.T) {
	ob, _ := NewOutbox(&memStore{})
	key := "k1"
	_ = ob.RecordPending(key)
	_ = ob.MarkFailed(key, "timeout")

	if dup, _ := ob.IsDuplicate(key); dup {
		t.Error("failed key must not be treated as duplicate — caller should retry")
	}
}

func TestOutbox_Clear(t *testing.T) {
	ob, _ := NewOutbox(&memStore{})
	key := "k2"
	_ = ob.MarkSent(key, "done")
	if dup, _ := ob.IsDuplicate(key); !dup {
		t.Fatal("expected sent key to be duplicate before Clear")
	}
	if err := ob.Clear(key); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if dup, _ := ob.IsDuplicate(key); dup {
		t.Error("cleared key must no longer be a duplicate")
	}
}

func TestIdempotencyKey_StableAcrossArgOrder(t *testing.T) {
	a := map[string]interface{}{"to": "x@example.com", "subject": "hi"}
	b := map[string]interface{}{"subject": "hi", "to": "x@example.com"}

	if IdempotencyKey("email", "send", a) != IdempotencyKey("email", "send", b) {
		t.Error("idempotency key must not depend on map iteration order")
	}
}

func TestIdempotencyKey_DiffersOnArgs(t *testing.T) {
	k1 := IdempotencyKey("email", "send", map[string]interface{}{"to": "a@example.com"})
	k2 := IdempotencyKey("email", "send", map[string]interface{}{"to": "b@example.com"})
	if k1 == k2 {
		t.Error("different args must produce different idempotency keys")
	}
}
