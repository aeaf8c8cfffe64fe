package publisher

import (
	"testing"

	"bus-scheduler/internal/schedule"
)

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"org-1":        "org-1",
		" PO Sumber ":  "PO_Sumber",
		"a.b":          "a_b",
		"wild*card>":   "wild_card_",
		"":             "_",
		"jakarta/west": "jakarta_west",
	}
	for in, want := range tests {
		if got := subjectToken(in); got != want {
			t.Errorf("subjectToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTransitionSubject(t *testing.T) {
	got := TransitionSubject("schedule", "po.sumber", schedule.StatusMissed)
	if want := "schedule.po_sumber.transition.missed"; got != want {
		t.Fatalf("TransitionSubject = %q, want %q", got, want)
	}
}
