package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hvym/pinnerd/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pinnerd.db")
	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSeedDaemonConfigAppliesOnlyAtDefaults(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SeedDaemonConfig(ctx, types.ModeAuto, 500, 1024); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	cfg, err := st.GetDaemonConfig(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.MinPrice != 500 || cfg.MaxContentSize != 1024 {
		t.Fatalf("expected seed to apply on fresh db, got %+v", cfg)
	}

	m := types.ModeApprove
	operatorPrice := int64(9999)
	if err := st.SetDaemonConfig(ctx, &m, &operatorPrice, nil); err != nil {
		t.Fatalf("set config: %v", err)
	}

	if err := st.SeedDaemonConfig(ctx, types.ModeAuto, 1, 1); err != nil {
		t.Fatalf("seed config again: %v", err)
	}
	cfg, err = st.GetDaemonConfig(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.MinPrice != 9999 || cfg.Mode != types.ModeApprove {
		t.Fatalf("expected later seed to leave operator-set policy alone, got %+v", cfg)
	}
}

func TestCursorMonotonicAndResumable(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seq, err := st.GetCursor(ctx)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected fresh cursor at 0, got %d", seq)
	}

	if err := st.SetCursor(ctx, 10); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := st.SetCursor(ctx, 5); err == nil {
		t.Fatalf("expected error moving cursor backwards")
	}
	if err := st.SetCursor(ctx, 10); err != nil {
		t.Fatalf("re-setting to same value should be idempotent: %v", err)
	}

	got, err := st.GetCursor(ctx)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if got != 10 {
		t.Fatalf("expected cursor 10, got %d", got)
	}
}

func TestSaveOfferIdempotentOnReplay(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ev := types.PinEvent{SlotID: "slot-1", CID: "cid-1", Gateway: "https://gw.example", OfferPrice: 1000, PinQty: 3, Publisher: "pub-1", LedgerSequence: 1}

	inserted, err := st.SaveOffer(ctx, ev, types.StatusPending)
	if err != nil {
		t.Fatalf("save offer: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first save to insert")
	}

	inserted, err = st.SaveOffer(ctx, ev, types.StatusPending)
	if err != nil {
		t.Fatalf("replay save offer: %v", err)
	}
	if inserted {
		t.Fatalf("expected replayed save to be a no-op (cursor-resumption idempotency)")
	}
}

func TestUpdateOfferStatusRejectsIllegalTransition(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ev := types.PinEvent{SlotID: "slot-2", CID: "cid-2", Gateway: "g", OfferPrice: 1, PinQty: 1, Publisher: "p", LedgerSequence: 1}
	if _, err := st.SaveOffer(ctx, ev, types.StatusPending); err != nil {
		t.Fatalf("save offer: %v", err)
	}

	if err := st.UpdateOfferStatus(ctx, "slot-2", types.StatusClaimed, ""); err == nil {
		t.Fatalf("expected illegal transition pending -> claimed to be rejected")
	}
	if err := st.UpdateOfferStatus(ctx, "slot-2", types.StatusPinning, ""); err != nil {
		t.Fatalf("expected legal transition pending -> pinning to succeed: %v", err)
	}
}

func TestSaveClaimRejectsDuplicateSlot(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := types.Claim{SlotID: "slot-3", CID: "cid-3", AmountEarned: 500, TxHash: "tx1"}
	if err := st.SaveClaim(ctx, c); err != nil {
		t.Fatalf("save claim: %v", err)
	}
	if err := st.SaveClaim(ctx, c); err == nil {
		t.Fatalf("expected duplicate slot_id claim to be rejected (at most one claim per slot)")
	}
}

func TestSaveFlagRejectsDuplicatePinner(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	f := types.FlagRecord{PinnerAddress: "pinner-1", TxHash: "tx1"}
	if err := st.SaveFlag(ctx, f); err != nil {
		t.Fatalf("save flag: %v", err)
	}
	if err := st.SaveFlag(ctx, f); err == nil {
		t.Fatalf("expected duplicate pinner flag to be rejected")
	}
}

func TestAddTrackedPinDedupsByCompositeKey(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	tp := types.TrackedPin{CID: "cid-4", PinnerAddress: "pinner-2", SlotID: "slot-4"}

	inserted, err := st.AddTrackedPin(ctx, tp)
	if err != nil {
		t.Fatalf("add tracked pin: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first insert to succeed")
	}

	inserted, err = st.AddTrackedPin(ctx, tp)
	if err != nil {
		t.Fatalf("add tracked pin again: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate (cid, pinner) pair to be ignored")
	}
}

func TestUpdateTrackedPinAtomicFailureReset(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	tp := types.TrackedPin{CID: "cid-5", PinnerAddress: "pinner-3", SlotID: "slot-5"}
	if _, err := st.AddTrackedPin(ctx, tp); err != nil {
		t.Fatalf("add tracked pin: %v", err)
	}

	tp.ConsecutiveFailures = 3
	tp.Status = types.TPSuspect
	if err := st.UpdateTrackedPin(ctx, tp); err != nil {
		t.Fatalf("update tracked pin: %v", err)
	}

	got, err := st.GetTrackedPin(ctx, "cid-5", "pinner-3")
	if err != nil {
		t.Fatalf("get tracked pin: %v", err)
	}
	if got.ConsecutiveFailures != 3 || got.Status != types.TPSuspect {
		t.Fatalf("unexpected state after update: %+v", got)
	}

	now := time.Now().UTC()
	got.ConsecutiveFailures = 0
	got.Status = types.TPVerified
	got.LastVerifiedAt = &now
	if err := st.UpdateTrackedPin(ctx, *got); err != nil {
		t.Fatalf("update tracked pin (reset): %v", err)
	}

	got2, err := st.GetTrackedPin(ctx, "cid-5", "pinner-3")
	if err != nil {
		t.Fatalf("get tracked pin: %v", err)
	}
	if got2.ConsecutiveFailures != 0 {
		t.Fatalf("expected consecutive_failures reset to 0, got %d", got2.ConsecutiveFailures)
	}
}

func TestPinnerCacheTTLExpiry(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	info := types.PinnerInfo{Address: "pinner-4", NodeID: "node-1", Active: true, CachedAt: time.Now().UTC().Add(-time.Hour)}
	if err := st.PinnerCacheSet(ctx, info); err != nil {
		t.Fatalf("cache set: %v", err)
	}

	if got, err := st.PinnerCacheGet(ctx, "pinner-4", time.Minute); err != nil {
		t.Fatalf("cache get: %v", err)
	} else if got != nil {
		t.Fatalf("expected stale entry past ttl to miss, got %+v", got)
	}

	if got, err := st.PinnerCacheGet(ctx, "pinner-4", 2*time.Hour); err != nil {
		t.Fatalf("cache get: %v", err)
	} else if got == nil {
		t.Fatalf("expected entry within ttl to hit")
	}
}
