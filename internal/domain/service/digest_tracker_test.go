package service

import "testing"

func TestDigestTracker_AlreadySentOn(t *testing.T) {
	dt, err := NewDigestTracker(&memStore{})
	if err != nil {
		t.Fatalf("NewDigestTracker: %v", err)
	}

	if dt.AlreadySentOn("2026-07-30") {
		t.Fatal("fresh tracker should report nothing sent yet")
	}

	if err := dt.MarkSent("2026-07-30"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if !dt.AlreadySentOn("2026-07-30") {
		t.Error("expected the marked date to report as already sent")
	}
	if dt.AlreadySentOn("2026-07-31") {
		t.Error("a different date must not be considered already sent")
	}
}

func TestDigestTracker_MarkSent_OverwritesPreviousDate(t *testing.T) {
	dt, _ := NewDigestTracker(&memStore{})
	_ = dt.MarkSent("2026-07-29")
	_ = dt.MarkSent("2026-07-30")

	if dt.AlreadySentOn("2026-07-29") {
		t.Error("tracker only remembers the most recent sent date")
	}
	if !dt.AlreadySentOn("2026-07-30") {
		t.Error("expected the latest marked date to be remembered")
	}
}
