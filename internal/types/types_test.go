package types

import "testing"

func TestCanTransitionLegalEdges(t *testing.T) {
	cases := []struct {
		from, to OfferStatus
		want     bool
	}{
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusAwaitingApproval, true},
		{StatusPending, StatusPinning, true},
		{StatusPinning, StatusPinned, true},
		{StatusPinning, StatusPinFailed, true},
		{StatusPinned, StatusClaiming, true},
		{StatusClaiming, StatusClaimed, true},
		{StatusClaimFailed, StatusClaiming, true},
		{StatusClaimed, StatusFilled, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanTransitionIllegalEdges(t *testing.T) {
	cases := []struct{ from, to OfferStatus }{
		{StatusPending, StatusClaimed},
		{StatusRejected, StatusPinning},
		{StatusClaimed, StatusPinning},
		{StatusFilled, StatusClaimed},
		{StatusExpired, StatusPending},
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", c.from, c.to)
		}
	}
}

func TestTerminalStatusNeverTransitions(t *testing.T) {
	for s := range terminalStatuses {
		if !IsTerminal(s) {
			t.Fatalf("%s expected terminal", s)
		}
		for _, target := range []OfferStatus{StatusPending, StatusPinning, StatusClaimed, StatusExpired} {
			if CanTransition(s, target) {
				t.Errorf("terminal status %s permitted transition to %s", s, target)
			}
		}
	}
}

func TestClaimFailedIsRetryableNotTerminal(t *testing.T) {
	if IsTerminal(StatusClaimFailed) {
		t.Fatalf("claim_failed must not be terminal: it is retryable on restart")
	}
	if !CanTransition(StatusClaimFailed, StatusClaiming) {
		t.Fatalf("claim_failed must permit re-entry to claiming")
	}
}

func TestClaimedAllowsTheFilledEdge(t *testing.T) {
	if IsTerminal(StatusClaimed) {
		t.Fatalf("claimed must not be terminal: it can still transition to filled")
	}
	if !CanTransition(StatusClaimed, StatusFilled) {
		t.Fatalf("claimed must permit the filled edge")
	}
	if CanTransition(StatusClaimed, StatusPinning) {
		t.Fatalf("claimed must not permit any edge other than filled")
	}
}

func TestEventLedgerSequence(t *testing.T) {
	e := Event{Kind: EventPin, Pin: &PinEvent{LedgerSequence: 42}}
	if got := e.LedgerSequence(); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}

	e2 := Event{Kind: EventPinned, Pinned: &PinnedEvent{LedgerSequence: 7}}
	if got := e2.LedgerSequence(); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}
