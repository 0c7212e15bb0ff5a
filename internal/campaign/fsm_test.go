package campaign

import "testing"

// Every (state, target) pair is asserted so adding an edge by accident
// fails a test.
func TestLegalEdges_Exhaustive(t *testing.T) {
	states := []Status{StatusDraft, StatusScheduled, StatusActive, StatusPaused, StatusCompleted}
	allowed := map[[2]Status]bool{
		{StatusDraft, StatusScheduled}:  true,
		{StatusDraft, StatusActive}:     true,
		{StatusScheduled, StatusActive}: true,
		{StatusActive, StatusPaused}:    true,
		{StatusActive, StatusCompleted}: true,
		{StatusPaused, StatusActive}:    true,
	}

	for _, from := range states {
		for _, to := range states {
			_, got := legalEdge(from, to)
			want := allowed[[2]Status{from, to}]
			if got != want {
				t.Errorf("legalEdge(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestLegalEdges_CompletedIsTerminal(t *testing.T) {
	for _, to := range []Status{StatusDraft, StatusScheduled, StatusActive, StatusPaused} {
		if _, ok := legalEdge(StatusCompleted, to); ok {
			t.Errorf("completed -> %s must not be a legal edge", to)
		}
	}
}

func TestLegalEdges_ResumeRequiresAdmission(t *testing.T) {
	checks, ok := legalEdge(StatusPaused, StatusActive)
	if !ok {
		t.Fatal("paused -> active must be legal")
	}
	found := false
	for _, c := range checks {
		if c == checkCreditAdmission {
			found = true
		}
	}
	if !found {
		t.Fatal("paused -> active must be guarded by credit admission")
	}

	for _, from := range []Status{StatusDraft, StatusScheduled} {
		checks, _ := legalEdge(from, StatusActive)
		for _, c := range checks {
			if c == checkCreditAdmission {
				t.Errorf("%s -> active must not require credit admission", from)
			}
		}
	}
}
