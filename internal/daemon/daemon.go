// Package daemon wires every component into the main run loop: drain the
// poller, process events in ledger order, route accepted offers through
// the mode controller, drain approved offers into execute-and-claim,
// expire stale approval-queue entries, then sleep. It also performs crash
// recovery on startup by re-driving any offer left mid-pipeline.
// Grounded on the teacher's cmd/synnergy daemon-style main loop: a typed
// Config, a constructor wiring every subsystem once, and a context-bound
// Run method that owns its own ticker instead of relying on a cron
// scheduler.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvym/pinnerd/internal/claims"
	"github.com/hvym/pinnerd/internal/config"
	"github.com/hvym/pinnerd/internal/executor"
	"github.com/hvym/pinnerd/internal/filter"
	"github.com/hvym/pinnerd/internal/gateway"
	"github.com/hvym/pinnerd/internal/hunter"
	"github.com/hvym/pinnerd/internal/ipc"
	"github.com/hvym/pinnerd/internal/kubo"
	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/mode"
	"github.com/hvym/pinnerd/internal/poller"
	"github.com/hvym/pinnerd/internal/store"
	"github.com/hvym/pinnerd/internal/types"
)

// Daemon owns every subsystem and drives the main loop.
type Daemon struct {
	cfg    config.Config
	store  *store.Store
	ledger ledgerclient.Client

	poller   *poller.Poller
	filter   *filter.Filter
	executor *executor.Executor
	claims   *claims.Submitter
	mode     *mode.Controller
	hunter   *hunter.Hunter

	operatorAddress string
	log             *logrus.Logger

	nextCycleDue time.Time
}

// New wires every subsystem from cfg. The mode controller's execute-and-
// claim callback is supplied here, closing the dependency-injection seam
// that keeps internal/mode free of an import on internal/executor and
// internal/claims.
func New(cfg config.Config, operatorAddress string, st *store.Store, ledger ledgerclient.Client, log *logrus.Logger) *Daemon {
	gw := gateway.New(cfg.PinTimeout)
	kuboClient := kubo.New(cfg.KuboRPC, cfg.PinTimeout)

	d := &Daemon{
		cfg:             cfg,
		store:           st,
		ledger:          ledger,
		poller:          poller.New(ledger, st, cfg.ContractID, log),
		filter:          filter.New(st, ledger, gw, operatorAddress, cfg.ConservativeFee),
		executor:        executor.New(gw, kuboClient, log),
		claims:          claims.New(ledger, operatorAddress, log),
		operatorAddress: operatorAddress,
		log:             log,
	}
	d.mode = mode.New(st, d.executeAndClaim)
	if cfg.HunterEnabled {
		d.hunter = hunter.New(hunter.Config{
			OperatorAddress:       operatorAddress,
			FailureThreshold:      cfg.FailureThreshold,
			CycleInterval:         cfg.CycleInterval,
			CooldownAfterFlag:     cfg.CooldownAfterFlag,
			MaxConcurrentChecks:   cfg.MaxConcurrentChecks,
			PinnerCacheTTL:        cfg.PinnerCacheTTL,
			CheckTimeout:          cfg.CheckTimeout,
			RetrievalCheckEnabled: cfg.RetrievalCheckEnabled,
		}, st, kuboClient, ledger, log)
	}
	return d
}

// IPCServer builds the aggregation/IPC HTTP server bound to this daemon's
// store, mode controller, hunter, and ledger client.
func (d *Daemon) IPCServer(addr string) *ipc.Server {
	return ipc.New(addr, d.store, d.mode, d.hunter, d.ledger, d.log)
}

// Run drives the main loop until ctx is cancelled. It returns
// claims.ErrFatalIdentity (wrapped with the offending slot) the moment the
// operator's own identity is rejected by the contract, so main can map that
// one condition to a distinct exit code instead of the daemon spinning
// forever against an identity the chain will never accept.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.store.SeedDaemonConfig(ctx, types.Mode(d.cfg.Mode), d.cfg.MinPrice, d.cfg.MaxContentSize); err != nil {
		return fmt.Errorf("daemon: seed policy: %w", err)
	}

	if err := d.recoverInFlightOffers(ctx); err != nil {
		d.log.WithError(err).Error("daemon: crash recovery failed")
		return err
	}

	d.nextCycleDue = time.Now().Add(d.cfg.CycleInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		sleep := d.cfg.PollInterval
		events, wait, err := d.poller.Poll(ctx)
		if err != nil {
			sleep = wait
		} else if len(events) > 0 {
			if procErr := d.processBatch(ctx, events); procErr != nil {
				if errors.Is(procErr, claims.ErrFatalIdentity) {
					return procErr
				}
				d.log.WithError(procErr).Error("daemon: batch processing failed, cursor not advanced")
			} else if advErr := d.poller.Advance(ctx, events); advErr != nil {
				d.log.WithError(advErr).Error("daemon: failed to advance cursor")
			}
		}

		if err := d.drainApprovalQueue(ctx); err != nil {
			if errors.Is(err, claims.ErrFatalIdentity) {
				return err
			}
			d.log.WithError(err).Warn("daemon: approval queue drain failed")
		}
		if err := d.expireStaleApprovals(ctx); err != nil {
			d.log.WithError(err).Warn("daemon: approval expiry sweep failed")
		}
		if d.hunter != nil && time.Now().After(d.nextCycleDue) {
			if _, err := d.hunter.RunCycle(ctx); err != nil {
				d.log.WithError(err).Warn("daemon: hunter cycle failed")
			}
			d.nextCycleDue = time.Now().Add(d.cfg.CycleInterval)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// processBatch applies every event in a poll batch, in strict order. It
// stops and surfaces claims.ErrFatalIdentity immediately if one is hit,
// leaving any remaining events in the batch unprocessed and the cursor
// unadvanced for a clean retry once the identity fault is resolved.
func (d *Daemon) processBatch(ctx context.Context, events []types.Event) error {
	for _, e := range events {
		if err := d.processOne(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (d *Daemon) processOne(ctx context.Context, e types.Event) error {
	switch e.Kind {
	case types.EventPin:
		return d.handlePinEvent(ctx, *e.Pin)
	case types.EventPinned:
		return d.handlePinnedEvent(ctx, *e.Pinned)
	case types.EventUnpin:
		return d.handleUnpinEvent(ctx, *e.Unpin)
	default:
		return nil
	}
}

func (d *Daemon) handlePinEvent(ctx context.Context, ev types.PinEvent) error {
	inserted, err := d.store.SaveOffer(ctx, ev, types.StatusPending)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := d.store.GetOffer(ctx, ev.SlotID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status != types.StatusPending {
			return nil
		}
	}
	if d.hunter != nil {
		if err := d.hunter.OnPinEvent(ctx, ev); err != nil {
			d.log.WithError(err).Warn("daemon: hunter OnPinEvent failed")
		}
	}

	result, err := d.filter.Evaluate(ctx, ev)
	if err != nil {
		return err
	}
	if !result.Accepted {
		return d.store.UpdateOfferStatus(ctx, ev.SlotID, types.StatusRejected, result.Reason)
	}
	if err := d.store.SetOfferProfit(ctx, ev.SlotID, result.NetProfit, nil); err != nil {
		return err
	}
	return d.mode.HandleAcceptedOffer(ctx, ev.SlotID)
}

func (d *Daemon) handlePinnedEvent(ctx context.Context, ev types.PinnedEvent) error {
	if err := d.store.SetOfferPinsRemaining(ctx, ev.SlotID, ev.PinsRemaining); err != nil {
		return err
	}
	if ev.PinsRemaining == 0 && ev.Pinner == d.operatorAddress {
		if err := d.store.UpdateOfferStatus(ctx, ev.SlotID, types.StatusFilled, ""); err != nil {
			d.log.WithError(err).Warn("daemon: failed to mark offer filled")
		}
	}
	if d.hunter != nil {
		if err := d.hunter.OnPinnedEvent(ctx, ev); err != nil {
			d.log.WithError(err).Warn("daemon: hunter OnPinnedEvent failed")
		}
	}
	return nil
}

func (d *Daemon) handleUnpinEvent(ctx context.Context, ev types.UnpinEvent) error {
	if err := d.store.UpdateOfferStatus(ctx, ev.SlotID, types.StatusExpired, ""); err != nil {
		d.log.WithError(err).Debug("daemon: unpin event for offer not in an expirable state")
	}
	if d.cfg.UnpinOnUnpinEvent {
		if offer, err := d.store.GetOffer(ctx, ev.SlotID); err != nil {
			d.log.WithError(err).Warn("daemon: failed to look up offer for unpin-on-unpin-event")
		} else if offer != nil {
			if _, err := d.executor.Unpin(ctx, offer.CID); err != nil {
				d.log.WithError(err).WithField("slot_id", ev.SlotID).Warn("daemon: unpin-on-unpin-event failed")
			}
		}
	}
	if d.hunter != nil {
		if err := d.hunter.OnUnpinEvent(ctx, ev); err != nil {
			d.log.WithError(err).Warn("daemon: hunter OnUnpinEvent failed")
		}
	}
	return nil
}

// drainApprovalQueue executes any offer the operator has approved via IPC
// since the last loop iteration. It stops and returns immediately on a
// fatal identity error rather than continuing on to the rest of the queue.
func (d *Daemon) drainApprovalQueue(ctx context.Context) error {
	approved, err := d.store.GetOffersByStatus(ctx, types.StatusApproved)
	if err != nil {
		return err
	}
	for _, o := range approved {
		if err := d.executeAndClaim(ctx, o.SlotID); err != nil {
			if errors.Is(err, claims.ErrFatalIdentity) {
				return err
			}
			d.log.WithError(err).WithField("slot_id", o.SlotID).Error("daemon: execute-and-claim failed for approved offer")
		}
	}
	return nil
}

// expireStaleApprovals moves awaiting_approval offers past the TTL to
// expired, freeing the operator from an unbounded queue.
func (d *Daemon) expireStaleApprovals(ctx context.Context) error {
	pending, err := d.store.GetApprovalQueue(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-d.cfg.ApprovalQueueTTL)
	for _, o := range pending {
		if o.UpdatedAt.Before(cutoff) {
			if err := d.store.UpdateOfferStatus(ctx, o.SlotID, types.StatusExpired, ""); err != nil {
				d.log.WithError(err).Warn("daemon: failed to expire stale approval")
			}
		}
	}
	return nil
}

// executeAndClaim runs the executor then the claim submitter for one slot,
// advancing the offer through pinning -> pinned -> claiming -> claimed (or
// the matching failure states). Idempotent: re-invoking on an offer already
// past pinning/claiming is a no-op guarded by the state machine. Returns
// claims.ErrFatalIdentity when the contract rejects the operator's own
// identity, a condition no amount of retrying will fix.
func (d *Daemon) executeAndClaim(ctx context.Context, slotID string) error {
	offer, err := d.store.GetOffer(ctx, slotID)
	if err != nil {
		return err
	}
	if offer == nil {
		return nil
	}
	if offer.Status == types.StatusClaimed || types.IsTerminal(offer.Status) {
		return nil
	}

	if offer.Status == types.StatusApproved || offer.Status == types.StatusPending {
		if err := d.store.UpdateOfferStatus(ctx, slotID, types.StatusPinning, ""); err != nil {
			return err
		}
	}

	if offer.Status != types.StatusPinned && offer.Status != types.StatusClaiming && offer.Status != types.StatusClaimFailed {
		res := d.executor.Pin(ctx, offer.CID, offer.Gateway, d.cfgMaxContentSize(ctx))
		if err := d.store.LogActivity(ctx, types.ActivityEntry{
			EventType: "pin_attempt", SlotID: slotID, CID: offer.CID,
			Message: activityMessage(res),
		}); err != nil {
			d.log.WithError(err).Warn("daemon: failed to log pin activity")
		}
		if !res.Success {
			return d.store.UpdateOfferStatus(ctx, slotID, types.StatusPinFailed, "")
		}
		if err := d.store.SavePin(ctx, offer.CID, slotID, res.BytesPinned); err != nil {
			return err
		}
		if err := d.store.UpdateOfferStatus(ctx, slotID, types.StatusPinned, ""); err != nil {
			return err
		}
	}

	if offer.Status != types.StatusClaiming {
		if err := d.store.UpdateOfferStatus(ctx, slotID, types.StatusClaiming, ""); err != nil {
			return err
		}
	}
	cr := d.claims.Submit(ctx, slotID)
	if cr.Fatal {
		d.log.WithField("slot_id", slotID).Error("daemon: fatal identity error on claim, halting event processing for this operator")
		return claims.FatalErr(slotID)
	}
	if cr.Retryable {
		// Leave status at claiming; a restart's crash recovery will retry
		// the submission.
		return nil
	}
	if !cr.Success {
		return d.store.UpdateOfferStatus(ctx, slotID, cr.NextStatus, "")
	}
	if err := d.store.SaveClaim(ctx, types.Claim{SlotID: slotID, CID: offer.CID, AmountEarned: cr.AmountEarned, TxHash: cr.TxHash}); err != nil {
		return err
	}
	return d.store.UpdateOfferStatus(ctx, slotID, types.StatusClaimed, "")
}

func (d *Daemon) cfgMaxContentSize(ctx context.Context) int64 {
	cfg, err := d.store.GetDaemonConfig(ctx)
	if err != nil {
		return d.cfg.MaxContentSize
	}
	return cfg.MaxContentSize
}

func activityMessage(res executor.Result) string {
	if res.Success {
		return "pinned successfully"
	}
	if res.Err != nil {
		return res.Err.Error()
	}
	return "pin failed"
}

// recoverInFlightOffers re-drives any offer left mid-pipeline by a prior
// crash, per status:
//   pinning               -> re-run executor
//   pinned (no claim yet) -> run claim submitter
//   claiming              -> re-run claim submitter
//   awaiting_approval/approved -> no action, operator/loop handles it
//   terminal               -> no action
// A fatal identity error here aborts recovery and is returned to Run rather
// than logged, since Run can't safely enter its event loop against an
// identity the chain has already rejected.
func (d *Daemon) recoverInFlightOffers(ctx context.Context) error {
	for _, status := range []types.OfferStatus{types.StatusPinning, types.StatusClaiming} {
		offers, err := d.store.GetOffersByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, o := range offers {
			d.log.WithFields(logrus.Fields{"slot_id": o.SlotID, "status": status}).Warn("daemon: crash recovery re-driving in-flight offer")
			if err := d.executeAndClaim(ctx, o.SlotID); err != nil {
				if errors.Is(err, claims.ErrFatalIdentity) {
					return err
				}
				d.log.WithError(err).WithField("slot_id", o.SlotID).Error("daemon: crash recovery failed for offer")
			}
		}
	}

	pinned, err := d.store.GetOffersByStatus(ctx, types.StatusPinned)
	if err != nil {
		return err
	}
	for _, o := range pinned {
		if claim, err := d.store.GetClaim(ctx, o.SlotID); err == nil && claim == nil {
			d.log.WithField("slot_id", o.SlotID).Warn("daemon: crash recovery: pinned offer missing claim, re-submitting")
			if err := d.executeAndClaim(ctx, o.SlotID); err != nil {
				if errors.Is(err, claims.ErrFatalIdentity) {
					return err
				}
				d.log.WithError(err).WithField("slot_id", o.SlotID).Error("daemon: crash recovery failed for pinned offer")
			}
		}
	}
	return nil
}
