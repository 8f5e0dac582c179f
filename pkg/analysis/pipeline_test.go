package analysis

import (
	"errors"
	"testing"

	"github.com/nullstream/unmutual/internal/db"
	"github.com/nullstream/unmutual/pkg/upstream"
)

func TestClassify_OutcomeError(t *testing.T) {
	err := &upstream.OutcomeError{Outcome: upstream.OutcomeSessionExpired, Detail: "401 on profile fetch"}

	outcome, detail := classify(err)
	if outcome != upstream.OutcomeSessionExpired {
		t.Fatalf("outcome = %v, want %v", outcome, upstream.OutcomeSessionExpired)
	}
	if detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestClassify_IncompleteDataError(t *testing.T) {
	err := &upstream.IncompleteDataError{Outcome: upstream.OutcomeRateLimited, FetchedCount: 40}

	outcome, _ := classify(err)
	if outcome != upstream.OutcomeRateLimited {
		t.Fatalf("outcome = %v, want %v", outcome, upstream.OutcomeRateLimited)
	}
}

func TestClassify_UnknownErrorIsTransient(t *testing.T) {
	outcome, _ := classify(errors.New("boom"))
	if outcome != upstream.OutcomeTransient {
		t.Fatalf("outcome = %v, want %v", outcome, upstream.OutcomeTransient)
	}
}

func TestFilterNonMutual(t *testing.T) {
	records := []db.NonMutualRecord{
		{TargetHandle: "a", IsMutual: true},
		{TargetHandle: "b", IsMutual: false},
		{TargetHandle: "c", IsMutual: false},
	}

	out := filterNonMutual(records)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	for _, r := range out {
		if r.IsMutual {
			t.Fatalf("unexpected mutual record in non-mutual filter result: %v", r)
		}
	}
}
