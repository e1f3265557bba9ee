package hunter

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/store"
	"github.com/hvym/pinnerd/internal/types"
)

// FlagSubmitter submits flag_pinner transactions once a pinner has crossed
// the consecutive-failure threshold. At most one flag per pinner is ever
// submitted; the pre-check against the flag history table makes SubmitFlag
// idempotent across daemon restarts.
type FlagSubmitter struct {
	store  *store.Store
	ledger ledgerclient.Client
	log    *logrus.Logger
}

// NewFlagSubmitter builds a FlagSubmitter.
func NewFlagSubmitter(st *store.Store, ledger ledgerclient.Client, log *logrus.Logger) *FlagSubmitter {
	return &FlagSubmitter{store: st, ledger: ledger, log: log}
}

// SubmitFlag flags pinnerAddress on behalf of callerAddress (the operator's
// own identity). Returns nil without submitting anything if this pinner was
// already flagged locally.
func (f *FlagSubmitter) SubmitFlag(ctx context.Context, callerAddress, pinnerAddress string) error {
	already, err := f.store.HasAlreadyFlagged(ctx, pinnerAddress)
	if err != nil {
		return err
	}
	if already {
		f.log.WithField("pinner", pinnerAddress).Debug("hunter: already flagged, skipping")
		return nil
	}

	res, err := f.ledger.FlagPinner(ctx, callerAddress, pinnerAddress)
	if err != nil {
		if errors.Is(err, ledgerclient.ErrAlreadyFlagged) {
			f.log.WithField("pinner", pinnerAddress).Warn("hunter: contract reports already flagged, recording locally")
			return f.store.SaveFlag(ctx, types.FlagRecord{PinnerAddress: pinnerAddress})
		}
		return err
	}

	f.log.WithFields(logrus.Fields{"pinner": pinnerAddress, "tx": res.TxHash}).
		Warn("hunter: flagged pinner for failing verification")

	flagCount := res.FlagCountAfter
	return f.store.SaveFlag(ctx, types.FlagRecord{
		PinnerAddress:  pinnerAddress,
		TxHash:         res.TxHash,
		FlagCountAfter: &flagCount,
		BountyEarned:   res.BountyEarned,
	})
}
