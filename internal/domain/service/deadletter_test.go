package service

import "testing"

func TestDeadLetterQueue_RecordFailure_BelowThreshold(t *testing.T) {
	dlq, err := NewDeadLetterQueue(&memStore{})
	if err != nil {
		t.Fatalf("NewDeadLetterQueue: %v", err)
	}

	for i := 0; i < dlqFailureThreshold-1; i++ {
		dead, err := dlq.RecordFailure("calendar", "boom", "trace1")
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if dead {
			t.Fatalf("failure %d should not dead-letter yet (threshold=%d)", i+1, dlqFailureThreshold)
		}
	}
	if items := dlq.LastN(10); len(items) != 0 {
		t.Errorf("expected no dead-lettered items yet, got %d", len(items))
	}
}

func TestDeadLetterQueue_RecordFailure_HitsThreshold(t *testing.T) {
	dlq, _ := NewDeadLetterQueue(&memStore{})

	var dead bool
	for i := 0; i < dlqFailureThreshold; i++ {
		var err error
		dead, err = dlq.RecordFailure("email", "timeout", "trace2")
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if !dead {
		t.Fatal("expected dead-lettered=true on the threshold-th failure")
	}

	items := dlq.LastN(10)
	if len(items) != 1 {
		t.Fatalf("expected 1 dead-lettered item, got %d", len(items))
	}
	if items[0].FailureKey != "email" || items[0].FailureCount != dlqFailureThreshold {
		t.Errorf("unexpected item: %+v", items[0])
	}
}

func TestDeadLetterQueue_RecordSuccess_ClearsCounter(t *testing.T) {
	dlq, _ := NewDeadLetterQueue(&memStore{})

	_, _ = dlq.RecordFailure("x", "err", "t")
	if err := dlq.RecordSuccess("x"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	// counter should be reset, so it takes a full new streak to dead-letter
	var dead bool
	for i := 0; i < dlqFailureThreshold-1; i++ {
		dead, _ = dlq.RecordFailure("x", "err again", "t")
	}
	if dead {
		t.Fatal("failure counter should have been cleared by RecordSuccess")
	}
}

func TestDeadLetterQueue_LastN_RingBufferCap(t *testing.T) {
	dlq, _ := NewDeadLetterQueue(&memStore{})

	for i := 0; i < dlqRingSize+5; i++ {
		key := "k"
		for j := 0; j < dlqFailureThreshold; j++ {
			_, _ = dlq.RecordFailure(key, "err", "t")
		}
		// vary the key each outer iteration so each produces one ring entry
		dlq.doc.Counters[key] = 0
		delete(dlq.doc.Counters, key)
	}

	items := dlq.LastN(1000)
	if len(items) > dlqRingSize {
		t.Errorf("ring buffer should cap at %d, got %d", dlqRingSize, len(items))
	}
}
