// Package claims implements the claim submitter: builds, simulates, signs,
// and submits the collect_pin transaction, mapping contract error codes to
// offer lifecycle transitions. Idempotent — a resubmission against an
// already-claimed slot is handled by the contract's AlreadyClaimed path
// without double-accounting.
package claims

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/types"
)

// Result is the outcome of one submit_claim call.
type Result struct {
	Success      bool
	Retryable    bool
	Fatal        bool // NotPinner: fatal to the daemon, operator-visible
	AmountEarned int64
	TxHash       string
	NextStatus   types.OfferStatus
}

// Submitter submits collect_pin transactions on behalf of one operator
// identity.
type Submitter struct {
	ledger          ledgerclient.Client
	operatorAddress string
	log             *logrus.Logger
}

// New builds a Submitter.
func New(ledger ledgerclient.Client, operatorAddress string, log *logrus.Logger) *Submitter {
	return &Submitter{ledger: ledger, operatorAddress: operatorAddress, log: log}
}

// Submit builds, simulates, signs, and submits collect_pin(caller, slotID),
// applying the exhaustive error mapping below.
func (s *Submitter) Submit(ctx context.Context, slotID string) Result {
	res, err := s.ledger.CollectPin(ctx, s.operatorAddress, slotID)
	if err == nil {
		return Result{Success: true, AmountEarned: res.AmountEarned, TxHash: res.TxHash, NextStatus: types.StatusClaimed}
	}

	switch {
	case errors.Is(err, ledgerclient.ErrAlreadyClaimed):
		s.log.WithField("slot_id", slotID).Warn("claim submitter: already claimed")
		return Result{Success: false, Retryable: false, NextStatus: types.StatusClaimFailed}
	case errors.Is(err, ledgerclient.ErrSlotExpired), errors.Is(err, ledgerclient.ErrSlotNotActive):
		return Result{Success: false, Retryable: false, NextStatus: types.StatusExpired}
	case errors.Is(err, ledgerclient.ErrNotPinner):
		s.log.WithField("slot_id", slotID).Error("claim submitter: operator identity not registered (NotPinner) — fatal")
		return Result{Success: false, Retryable: false, Fatal: true}
	default:
		var transient ledgerclient.TransientError
		if errors.As(err, &transient) {
			return Result{Success: false, Retryable: true}
		}
		s.log.WithError(err).WithField("slot_id", slotID).Warn("claim submitter: unclassified error treated as transient")
		return Result{Success: false, Retryable: true}
	}
}

// ErrFatalIdentity is surfaced to the daemon loop when NotPinner is
// detected, triggering an operator-visible alert and pausing event
// processing for this identity until the operator intervenes.
var ErrFatalIdentity = errors.New("claims: operator identity not registered on-chain")

// FatalErr returns ErrFatalIdentity wrapped with the offending slot, for
// callers that need an error value rather than a Result.
func FatalErr(slotID string) error {
	return fmt.Errorf("%w (slot %s)", ErrFatalIdentity, slotID)
}
