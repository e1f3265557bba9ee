package filter

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/store"
	"github.com/hvym/pinnerd/internal/types"
)

type fakeLedger struct {
	slot        ledgerclient.SlotInfo
	slotErr     error
	fee         int64
	feeErr      error
	balance     int64
	balanceErr  error
	pinnerInfo  types.PinnerInfo
}

func (f *fakeLedger) PollEvents(ctx context.Context, contractID string, sinceSeq uint64) ([]types.Event, error) {
	return nil, nil
}
func (f *fakeLedger) SimulateFee(ctx context.Context) (int64, error)          { return f.fee, f.feeErr }
func (f *fakeLedger) Balance(ctx context.Context, address string) (int64, error) {
	return f.balance, f.balanceErr
}
func (f *fakeLedger) GetSlot(ctx context.Context, slotID string) (ledgerclient.SlotInfo, error) {
	return f.slot, f.slotErr
}
func (f *fakeLedger) IsSlotExpired(ctx context.Context, slotID string) (bool, error) {
	return f.slot.Expired, nil
}
func (f *fakeLedger) GetPinner(ctx context.Context, address string) (types.PinnerInfo, error) {
	return f.pinnerInfo, nil
}
func (f *fakeLedger) CurrentEpoch(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeLedger) CollectPin(ctx context.Context, caller, slotID string) (ledgerclient.CollectResult, error) {
	return ledgerclient.CollectResult{}, nil
}
func (f *fakeLedger) FlagPinner(ctx context.Context, caller, pinnerAddress string) (ledgerclient.FlagResult, error) {
	return ledgerclient.FlagResult{}, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pinnerd.db")
	st, err := store.Open(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestFilterRejectsAlreadyClaimed(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ev := types.PinEvent{SlotID: "slot-1", CID: "cid-1", OfferPrice: 1000, PinQty: 1, Publisher: "pub"}
	if _, err := st.SaveOffer(ctx, ev, types.StatusClaimed); err != nil {
		t.Fatalf("save offer: %v", err)
	}

	f := New(st, &fakeLedger{slot: ledgerclient.SlotInfo{PinsRemaining: 1}}, nil, "operator", 100)
	res, err := f.Evaluate(ctx, ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Accepted || res.Reason != types.ReasonAlreadySeenClaimed {
		t.Fatalf("expected already_seen_claimed rejection, got %+v", res)
	}
}

func TestFilterRejectsCIDAlreadyPinned(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.SavePin(ctx, "cid-pinned", "slot-x", 100); err != nil {
		t.Fatalf("save pin: %v", err)
	}
	ev := types.PinEvent{SlotID: "slot-2", CID: "cid-pinned", OfferPrice: 1000, PinQty: 1, Publisher: "pub"}

	f := New(st, &fakeLedger{slot: ledgerclient.SlotInfo{PinsRemaining: 1}}, nil, "operator", 100)
	res, err := f.Evaluate(ctx, ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Accepted || res.Reason != types.ReasonCIDAlreadyPinned {
		t.Fatalf("expected cid_already_pinned rejection, got %+v", res)
	}
}

func TestFilterRejectsPriceTooLow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.SetDaemonConfig(ctx, nil, int64Ptr(500), nil); err != nil {
		t.Fatalf("set config: %v", err)
	}
	ev := types.PinEvent{SlotID: "slot-3", CID: "cid-3", OfferPrice: 100, PinQty: 1, Publisher: "pub"}

	f := New(st, &fakeLedger{slot: ledgerclient.SlotInfo{PinsRemaining: 1}}, nil, "operator", 100)
	res, err := f.Evaluate(ctx, ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Accepted || res.Reason != types.ReasonPriceTooLow {
		t.Fatalf("expected price_too_low rejection, got %+v", res)
	}
}

func TestFilterRejectsSlotNotActive(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ev := types.PinEvent{SlotID: "slot-4", CID: "cid-4", OfferPrice: 1000, PinQty: 1, Publisher: "pub"}

	f := New(st, &fakeLedger{slot: ledgerclient.SlotInfo{PinsRemaining: 0}}, nil, "operator", 100)
	res, err := f.Evaluate(ctx, ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Accepted || res.Reason != types.ReasonSlotNotActive {
		t.Fatalf("expected slot_not_active rejection, got %+v", res)
	}
}

func TestFilterRejectsUnprofitable(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ev := types.PinEvent{SlotID: "slot-5", CID: "cid-5", OfferPrice: 50, PinQty: 1, Publisher: "pub"}

	f := New(st, &fakeLedger{slot: ledgerclient.SlotInfo{PinsRemaining: 1}, fee: 100, balance: 10_000}, nil, "operator", 100)
	res, err := f.Evaluate(ctx, ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Accepted || res.Reason != types.ReasonUnprofitable {
		t.Fatalf("expected unprofitable rejection, got %+v", res)
	}
}

func TestFilterAcceptsProfitableOffer(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ev := types.PinEvent{SlotID: "slot-6", CID: "cid-6", OfferPrice: 1000, PinQty: 1, Publisher: "pub"}

	f := New(st, &fakeLedger{slot: ledgerclient.SlotInfo{PinsRemaining: 1}, fee: 100, balance: 10_000}, nil, "operator", 100)
	res, err := f.Evaluate(ctx, ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("expected acceptance, got %+v", res)
	}
	if res.NetProfit != 900 {
		t.Fatalf("expected net profit 900, got %d", res.NetProfit)
	}
}

func int64Ptr(v int64) *int64 { return &v }
