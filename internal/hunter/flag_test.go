package hunter

import (
	"context"
	"testing"

	"github.com/hvym/pinnerd/internal/ledgerclient"
)

func TestSubmitFlagIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ledger := &fakeLedger{flagResult: ledgerclient.FlagResult{TxHash: "tx1", FlagCountAfter: 1}}
	f := NewFlagSubmitter(st, ledger, silentLogger())

	if err := f.SubmitFlag(context.Background(), "operator", "pinner-1"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	already, err := st.HasAlreadyFlagged(context.Background(), "pinner-1")
	if err != nil {
		t.Fatalf("has already flagged: %v", err)
	}
	if !already {
		t.Fatalf("expected flag record to be saved")
	}

	// Second call must not re-submit to the ledger.
	ledger.flagErr = errShouldNotBeCalled
	if err := f.SubmitFlag(context.Background(), "operator", "pinner-1"); err != nil {
		t.Fatalf("second submit should be a no-op, got error: %v", err)
	}
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

var errShouldNotBeCalled = sentinelErr("flag submitter: ledger called on an already-flagged pinner")

func TestSubmitFlagHandlesAlreadyFlaggedFromContract(t *testing.T) {
	st := openTestStore(t)
	ledger := &fakeLedger{flagErr: ledgerclient.ErrAlreadyFlagged}
	f := NewFlagSubmitter(st, ledger, silentLogger())

	if err := f.SubmitFlag(context.Background(), "operator", "pinner-2"); err != nil {
		t.Fatalf("expected already-flagged to be handled without error: %v", err)
	}
	already, err := st.HasAlreadyFlagged(context.Background(), "pinner-2")
	if err != nil {
		t.Fatalf("has already flagged: %v", err)
	}
	if !already {
		t.Fatalf("expected local flag record even when contract reports already flagged")
	}
}
