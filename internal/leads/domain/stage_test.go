package domain

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCanAdvance_SingleStepOnly(t *testing.T) {
	policy := DefaultStagePolicy()

	cases := []struct {
		from, to string
		want     bool
	}{
		{StageNew, StageMeeting, true},
		{StageCall, StageMeeting, true},
		{StageMeeting, StageSiteVisit, true},
		{StageSiteVisit, StageClosing, true},
		{StageNew, StageSiteVisit, false},
		{StageMeeting, StageClosing, false},
		{StageClosing, StageMeeting, false},
		{StageMeeting, StageMeeting, false},
		{"unknown", StageMeeting, false},
		{StageMeeting, "unknown", false},
	}

	for _, tc := range cases {
		if got := policy.CanAdvance(tc.from, tc.to); got != tc.want {
			t.Errorf("CanAdvance(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDefaultStagePolicy_Window(t *testing.T) {
	policy := DefaultStagePolicy()
	if policy.SLAWindow != 7*24*time.Hour {
		t.Fatalf("expected 7 day SLA window, got %s", policy.SLAWindow)
	}
	if !policy.IsTrackable(StageSiteVisit) {
		t.Fatal("expected site_visit to be trackable")
	}
}

func TestLoadStagePolicy_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := []byte("ordinals:\n  intake: 0\n  demo: 1\ntrackable:\n  - demo\nslaWindow: 48h\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadStagePolicy(path)
	if err != nil {
		t.Fatalf("LoadStagePolicy: %v", err)
	}

	if !policy.CanAdvance("intake", "demo") {
		t.Error("expected intake -> demo to advance")
	}
	if policy.IsTrackable("intake") {
		t.Error("intake should not be trackable after override")
	}
	if policy.SLAWindow != 48*time.Hour {
		t.Errorf("expected 48h window, got %s", policy.SLAWindow)
	}
}

func TestLoadStagePolicy_EmptyPathReturnsDefaults(t *testing.T) {
	policy, err := LoadStagePolicy("")
	if err != nil {
		t.Fatalf("LoadStagePolicy: %v", err)
	}
	if ord, ok := policy.Ordinal(StageClosing); !ok || ord != 3 {
		t.Errorf("expected closing ordinal 3, got %d (ok=%v)", ord, ok)
	}
}
