package hunter

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/store"
	"github.com/hvym/pinnerd/internal/types"
)

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

// fakeLedger is a minimal ledgerclient.Client for hunter tests; only
// FlagPinner/GetPinner are exercised by the flag-submission and registry
// paths under test.
type fakeLedger struct {
	flagErr    error
	flagResult ledgerclient.FlagResult
	pinnerInfo types.PinnerInfo
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
	return f.pinnerInfo, nil
}
func (f *fakeLedger) CurrentEpoch(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeLedger) CollectPin(ctx context.Context, caller, slotID string) (ledgerclient.CollectResult, error) {
	return ledgerclient.CollectResult{}, nil
}
func (f *fakeLedger) FlagPinner(ctx context.Context, caller, pinnerAddress string) (ledgerclient.FlagResult, error) {
	return f.flagResult, f.flagErr
}
