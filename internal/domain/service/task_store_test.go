package service

import (
	"testing"

	"github.com/amplifyco/novaagent/internal/domain/entity"
)

func TestTaskStore_EnqueueAndDequeueNext_FIFO(t *testing.T) {
	s, err := NewTaskStore(&memStore{})
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}

	first := &entity.Task{ID: "t1", Goal: "first"}
	second := &entity.Task{ID: "t2", Goal: "second"}
	_ = s.Enqueue(first)
	_ = s.Enqueue(second)

	got, err := s.DequeueNext()
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if got.ID != "t1" {
		t.Fatalf("expected FIFO order, got %q first", got.ID)
	}
	if got.Status != entity.TaskRunning {
		t.Errorf("dequeued task should be marked running, got %q", got.Status)
	}

	// t1 is now running, not pending — next dequeue should skip it and
	// return t2.
	got2, _ := s.DequeueNext()
	if got2.ID != "t2" {
		t.Fatalf("expected t2 next, got %q", got2.ID)
	}
}

func TestTaskStore_DequeueNext_EmptyQueueReturnsNil(t *testing.T) {
	s, _ := NewTaskStore(&memStore{})
	got, err := s.DequeueNext()
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil from an empty queue, got %+v", got)
	}
}

func TestTaskStore_Cancel_MarksFailed(t *testing.T) {
	s, _ := NewTaskStore(&memStore{})
	_ = s.Enqueue(&entity.Task{ID: "t1"})

	if err := s.Cancel("t1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got := s.Get("t1")
	if got.Status != entity.TaskFailed {
		t.Errorf("cancelled task status: got %q, want %q", got.Status, entity.TaskFailed)
	}
	if !got.IsCancelled() {
		t.Error("IsCancelled should report true after Cancel")
	}
}

func TestTaskStore_Get_UnknownIDReturnsNil(t *testing.T) {
	s, _ := NewTaskStore(&memStore{})
	if got := s.Get("nope"); got != nil {
		t.Errorf("expected nil for unknown task ID, got %+v", got)
	}
}

func TestTaskStore_All_ArrivalOrder(t *testing.T) {
	s, _ := NewTaskStore(&memStore{})
	_ = s.Enqueue(&entity.Task{ID: "a"})
	_ = s.Enqueue(&entity.Task{ID: "b"})
	_ = s.Enqueue(&entity.Task{ID: "c"})

	all := s.All()
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Errorf("expected arrival order [a b c], got %v", taskIDs(all))
	}
}

func taskIDs(tasks []*entity.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
