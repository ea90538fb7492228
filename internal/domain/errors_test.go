package domain

import (
	"testing"

	"github.com/pkg/errors"
)

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := Errorf(KindNotFound, "job %q not found", "j1")
	wrapped := errors.Wrap(base, "load job")

	if got := KindOf(wrapped); got != KindNotFound {
		t.Fatalf("KindOf(wrapped) = %q, want %q", got, KindNotFound)
	}
	if !IsKind(wrapped, KindNotFound) {
		t.Fatal("IsKind should see through errors.Wrap")
	}
}

func TestKindOfPlainErrorIsInternal(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("KindOf(plain) = %q, want internal", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %q, want empty", got)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindBusy, true},
		{KindConflict, true},
		{KindInvalidState, false},
		{KindValidation, false},
		{KindAuthorization, false},
	}
	for _, tt := range tests {
		if got := Retryable(Errorf(tt.kind, "x")); got != tt.want {
			t.Errorf("Retryable(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestCloneDoesNotShareBids(t *testing.T) {
	price := 42.0
	j := &Job{ID: "j1", SuggestedPrice: &price, Bids: []Bid{{ID: "b1", Amount: 10}}}
	c := j.Clone()
	c.Bids[0].Accepted = true
	*c.SuggestedPrice = 1
	c.Bids = append(c.Bids, Bid{ID: "b2"})

	if j.Bids[0].Accepted {
		t.Fatal("clone mutation leaked into original bid")
	}
	if *j.SuggestedPrice != 42 {
		t.Fatal("clone mutation leaked into original price")
	}
	if len(j.Bids) != 1 {
		t.Fatalf("original bid count = %d, want 1", len(j.Bids))
	}
}
