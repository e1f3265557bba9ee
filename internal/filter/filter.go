// Package filter implements the offer filter: the exhaustive, ordered
// accept/reject policy applied to every PinEvent. All amounts are integer
// base units; no floating-point arithmetic enters the decision.
package filter

import (
	"context"
	"fmt"

	"github.com/hvym/pinnerd/internal/gateway"
	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/store"
	"github.com/hvym/pinnerd/internal/types"
)

// SafetyFactor is the multiplier applied to the estimated fee when checking
// wallet sufficiency.
const SafetyFactor = 2

// Result is the filter's accept/reject verdict for one offer.
type Result struct {
	Accepted       bool
	Reason         types.RejectReason
	WalletBalance  int64
	EstimatedFee   int64
	NetProfit      int64
}

// Filter evaluates PinEvents against local policy plus on-chain/gateway
// lookups.
type Filter struct {
	store           *store.Store
	ledger          ledgerclient.Client
	gw              *gateway.Client
	operatorAddress string
	conservativeFee int64
}

// New builds a Filter. conservativeFee is the constant used when the
// ledger's simulate call fails.
func New(st *store.Store, ledger ledgerclient.Client, gw *gateway.Client, operatorAddress string, conservativeFee int64) *Filter {
	return &Filter{store: st, ledger: ledger, gw: gw, operatorAddress: operatorAddress, conservativeFee: conservativeFee}
}

// Evaluate runs the exhaustive, ordered rejection checks below; the first
// failure wins.
func (f *Filter) Evaluate(ctx context.Context, ev types.PinEvent) (Result, error) {
	cfg, err := f.store.GetDaemonConfig(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("filter: load config: %w", err)
	}

	// 1. already_seen_claimed
	if existing, err := f.store.GetOffer(ctx, ev.SlotID); err != nil {
		return Result{}, err
	} else if existing != nil && (existing.Status == types.StatusClaimed || existing.Status == types.StatusFilled) {
		return reject(types.ReasonAlreadySeenClaimed), nil
	}

	// 2. cid_already_pinned
	if pinned, err := f.store.IsCIDPinned(ctx, ev.CID); err != nil {
		return Result{}, err
	} else if pinned {
		return reject(types.ReasonCIDAlreadyPinned), nil
	}

	// 3. price_too_low
	if ev.OfferPrice < cfg.MinPrice {
		return reject(types.ReasonPriceTooLow), nil
	}

	// 4. slot_not_active
	slot, err := f.ledger.GetSlot(ctx, ev.SlotID)
	if err == nil {
		if slot.Expired || slot.PinsRemaining == 0 {
			return reject(types.ReasonSlotNotActive), nil
		}
	}

	// 5. content_too_large (optional HEAD; best-effort, never fatal to the
	// filter itself — a failed HEAD simply skips this check).
	if f.gw != nil {
		if size, err := f.gw.HeadSize(ctx, ev.Gateway, ev.CID); err == nil && size >= 0 {
			if size > cfg.MaxContentSize {
				return reject(types.ReasonContentTooLarge), nil
			}
		}
	}

	// Fee estimate, used by both remaining checks.
	fee, err := f.ledger.SimulateFee(ctx)
	if err != nil {
		fee = f.conservativeFee
	}

	// 6. insufficient_xlm
	balance, err := f.ledger.Balance(ctx, f.operatorAddress)
	if err != nil {
		balance = 0
	}
	if balance < fee*SafetyFactor {
		return Result{Accepted: false, Reason: types.ReasonInsufficientXLM, WalletBalance: balance, EstimatedFee: fee}, nil
	}

	// 7. unprofitable
	netProfit := ev.OfferPrice - fee
	if netProfit <= 0 {
		return Result{Accepted: false, Reason: types.ReasonUnprofitable, WalletBalance: balance, EstimatedFee: fee, NetProfit: netProfit}, nil
	}

	return Result{Accepted: true, WalletBalance: balance, EstimatedFee: fee, NetProfit: netProfit}, nil
}

func reject(reason types.RejectReason) Result {
	return Result{Accepted: false, Reason: reason}
}
