package service

import "testing"

func TestTemplateStore_SaveAndFindByGoal(t *testing.T) {
	s, err := NewTemplateStore(&memStore{})
	if err != nil {
		t.Fatalf("NewTemplateStore: %v", err)
	}

	if got := s.FindByGoal("plan offsite"); got != nil {
		t.Fatal("empty store should find nothing")
	}

	tmpl := TaskTemplate{Goal: "plan offsite", Score: 0.9}
	if err := s.Save(tmpl); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := s.FindByGoal("plan offsite")
	if got == nil || got.Score != 0.9 {
		t.Fatalf("expected to find the saved template, got %+v", got)
	}
}

func TestTemplateStore_FindByGoal_ReturnsMostRecentMatch(t *testing.T) {
	s, _ := NewTemplateStore(&memStore{})
	_ = s.Save(TaskTemplate{Goal: "weekly report", Score: 0.5})
	_ = s.Save(TaskTemplate{Goal: "weekly report", Score: 0.95})

	got := s.FindByGoal("weekly report")
	if got == nil || got.Score != 0.95 {
		t.Fatalf("expected the most recently saved template to win, got %+v", got)
	}
}

func TestTemplateStore_Save_CapsAtLimit(t *testing.T) {
	s, _ := NewTemplateStore(&memStore{})
	for i := 0; i < templateStoreCap+5; i++ {
		_ = s.Save(TaskTemplate{Goal: "bulk"})
	}
	if got := s.FindByGoal("bulk"); got == nil {
		t.Fatal("expected the most recent entries to survive capping")
	}
}
