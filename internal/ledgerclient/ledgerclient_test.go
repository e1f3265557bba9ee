package ledgerclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestHTTPClientStubsReturnTransientError confirms every production method
// fails closed with a TransientError rather than a panic or a silent zero
// value, so daemon/poller backoff logic always has a retryable signal until
// the RPC wiring lands.
func TestHTTPClientStubsReturnTransientError(t *testing.T) {
	c := NewHTTP("http://127.0.0.1:0", time.Second)
	ctx := context.Background()

	var transient TransientError

	if _, err := c.PollEvents(ctx, "contract-1", 0); !errors.As(err, &transient) {
		t.Fatalf("PollEvents: expected TransientError, got %v", err)
	}
	if _, err := c.SimulateFee(ctx); !errors.As(err, &transient) {
		t.Fatalf("SimulateFee: expected TransientError, got %v", err)
	}
	if _, err := c.Balance(ctx, "addr"); !errors.As(err, &transient) {
		t.Fatalf("Balance: expected TransientError, got %v", err)
	}
	if _, err := c.GetSlot(ctx, "slot-1"); !errors.As(err, &transient) {
		t.Fatalf("GetSlot: expected TransientError, got %v", err)
	}
	if _, err := c.IsSlotExpired(ctx, "slot-1"); !errors.As(err, &transient) {
		t.Fatalf("IsSlotExpired: expected TransientError, got %v", err)
	}
	if _, err := c.GetPinner(ctx, "addr"); !errors.As(err, &transient) {
		t.Fatalf("GetPinner: expected TransientError, got %v", err)
	}
	if _, err := c.CurrentEpoch(ctx); !errors.As(err, &transient) {
		t.Fatalf("CurrentEpoch: expected TransientError, got %v", err)
	}
	if _, err := c.CollectPin(ctx, "caller", "slot-1"); !errors.As(err, &transient) {
		t.Fatalf("CollectPin: expected TransientError, got %v", err)
	}
	if _, err := c.FlagPinner(ctx, "caller", "pinner-1"); !errors.As(err, &transient) {
		t.Fatalf("FlagPinner: expected TransientError, got %v", err)
	}
}

func TestTransientErrorUnwraps(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	e := TransientError{Err: inner}
	if !errors.Is(e, inner) {
		t.Fatalf("expected TransientError to unwrap to its inner error")
	}
}
