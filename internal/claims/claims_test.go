package claims

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/types"
)

type fakeLedger struct {
	collectResult ledgerclient.CollectResult
	collectErr    error
}

func (f *fakeLedger) PollEvents(ctx context.Context, contractID string, sinceSeq uint64) ([]types.Event, error) {
	return nil, nil
}
func (f *fakeLedger) SimulateFee(ctx context.Context) (int64, error)             { return 0, nil }
func (f *fakeLedger) Balance(ctx context.Context, address string) (int64, error) { return 0, nil }
func (f *fakeLedger) GetSlot(ctx context.Context, slotID string) (ledgerclient.SlotInfo, error) {
	return ledgerclient.SlotInfo{}, nil
}
func (f *fakeLedger) IsSlotExpired(ctx context.Context, slotID string) (bool, error) { return false, nil }
func (f *fakeLedger) GetPinner(ctx context.Context, address string) (types.PinnerInfo, error) {
	return types.PinnerInfo{}, nil
}
func (f *fakeLedger) CurrentEpoch(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeLedger) CollectPin(ctx context.Context, caller, slotID string) (ledgerclient.CollectResult, error) {
	return f.collectResult, f.collectErr
}
func (f *fakeLedger) FlagPinner(ctx context.Context, caller, pinnerAddress string) (ledgerclient.FlagResult, error) {
	return ledgerclient.FlagResult{}, nil
}

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestSubmitSuccess(t *testing.T) {
	s := New(&fakeLedger{collectResult: ledgerclient.CollectResult{AmountEarned: 500, TxHash: "tx1"}}, "operator", silentLogger())
	res := s.Submit(context.Background(), "slot-1")
	if !res.Success || res.AmountEarned != 500 || res.NextStatus != types.StatusClaimed {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitAlreadyClaimed(t *testing.T) {
	s := New(&fakeLedger{collectErr: ledgerclient.ErrAlreadyClaimed}, "operator", silentLogger())
	res := s.Submit(context.Background(), "slot-2")
	if res.Success || res.Retryable || res.NextStatus != types.StatusClaimFailed {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitSlotExpired(t *testing.T) {
	s := New(&fakeLedger{collectErr: ledgerclient.ErrSlotExpired}, "operator", silentLogger())
	res := s.Submit(context.Background(), "slot-3")
	if res.Success || res.Retryable || res.NextStatus != types.StatusExpired {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitNotPinnerIsFatal(t *testing.T) {
	s := New(&fakeLedger{collectErr: ledgerclient.ErrNotPinner}, "operator", silentLogger())
	res := s.Submit(context.Background(), "slot-4")
	if !res.Fatal || res.Success {
		t.Fatalf("expected fatal identity error, got %+v", res)
	}
}

func TestSubmitTransientIsRetryable(t *testing.T) {
	s := New(&fakeLedger{collectErr: ledgerclient.TransientError{Err: errPlaceholder}}, "operator", silentLogger())
	res := s.Submit(context.Background(), "slot-5")
	if !res.Retryable || res.Success {
		t.Fatalf("expected retryable transient error, got %+v", res)
	}
}

var errPlaceholder = testErr("rpc timeout")

type testErr string

func (e testErr) Error() string { return string(e) }
