// Package hunter implements the verification subsystem that audits whether
// other pinners who claimed the operator's own publications are actually
// serving that content, submitting on-chain flag transactions when they
// are not. It is composed of five sub-components: event ingestion (this
// file), the verifier (verifier.go), the scheduler (scheduler.go), the
// flag submitter (flag.go), and the pinner-registry cache (this file).
//
// To avoid a cyclic reference back to the daemon loop, the Hunter is
// constructed after the store but before the daemon and holds only a
// borrowed store handle; the daemon holds the Hunter by pointer and
// delegates event ingestion to it, so there is no back-pointer from Hunter
// to the daemon loop.
package hunter

import (
	"context"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/hvym/pinnerd/internal/cidutil"
	"github.com/hvym/pinnerd/internal/kubo"
	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/store"
	"github.com/hvym/pinnerd/internal/types"
)

// Config bundles the hunter's tunables.
type Config struct {
	OperatorAddress       string
	FailureThreshold      int
	CycleInterval         time.Duration
	CooldownAfterFlag     time.Duration
	MaxConcurrentChecks   int
	PinnerCacheTTL        time.Duration
	CheckTimeout          time.Duration
	RetrievalCheckEnabled bool
}

// Hunter is the audit subsystem. It holds a borrowed store handle and its
// own kubo/ledger clients; no other component mutates hunter state
// directly.
type Hunter struct {
	cfg    Config
	store  *store.Store
	kubo   *kubo.Client
	ledger ledgerclient.Client
	flags  *FlagSubmitter
	log    *logrus.Logger

	running bool // guards against overlapping scheduler cycles
}

// New constructs a Hunter.
func New(cfg Config, st *store.Store, kuboClient *kubo.Client, ledger ledgerclient.Client, log *logrus.Logger) *Hunter {
	return &Hunter{
		cfg:    cfg,
		store:  st,
		kubo:   kuboClient,
		ledger: ledger,
		flags:  NewFlagSubmitter(st, ledger, log),
		log:    log,
	}
}

// OnPinEvent registers a TrackedCID when we are the publisher.
func (h *Hunter) OnPinEvent(ctx context.Context, e types.PinEvent) error {
	if e.Publisher != h.cfg.OperatorAddress {
		return nil
	}
	return h.store.AddTrackedCID(ctx, types.TrackedCID{
		CID:       e.CID,
		CIDHash:   cidutil.HashOf(e.CID),
		SlotID:    e.SlotID,
		Publisher: e.Publisher,
		Gateway:   e.Gateway,
		PinQty:    e.PinQty,
	})
}

// OnPinnedEvent registers a TrackedPin when the cid is one we publish and
// the claiming pinner is not ourselves.
func (h *Hunter) OnPinnedEvent(ctx context.Context, e types.PinnedEvent) error {
	if e.Pinner == h.cfg.OperatorAddress {
		return nil
	}
	tc, err := h.store.GetTrackedCIDByHash(ctx, e.CIDHash)
	if err != nil {
		return err
	}
	if tc == nil {
		return nil // not one of our publications
	}
	info, err := h.GetPinnerInfo(ctx, e.Pinner)
	if err != nil {
		h.log.WithError(err).WithField("pinner", e.Pinner).Warn("hunter: pinner registry lookup failed, tracking with empty info")
		info = &types.PinnerInfo{Address: e.Pinner}
	}
	_, err = h.store.AddTrackedPin(ctx, types.TrackedPin{
		CID:             tc.CID,
		PinnerAddress:   e.Pinner,
		PinnerNodeID:    info.NodeID,
		PinnerMultiaddr: info.Multiaddr,
		SlotID:          e.SlotID,
		Status:          types.TPTracking,
	})
	return err
}

// OnUnpinEvent marks every TrackedPin of the affected TrackedCID as
// slot_freed, so the scheduler skips it going forward.
func (h *Hunter) OnUnpinEvent(ctx context.Context, e types.UnpinEvent) error {
	tc, err := h.store.GetTrackedCIDByHash(ctx, e.CIDHash)
	if err != nil {
		return err
	}
	if tc == nil {
		return nil
	}
	return h.store.MarkTrackedPinsSlotFreed(ctx, tc.CID)
}

// ForceFlag submits a flag for pinnerAddress immediately, bypassing the
// consecutive-failure threshold — the IPC-driven flag_now operation for an
// operator who has independent evidence of non-service.
func (h *Hunter) ForceFlag(ctx context.Context, pinnerAddress string) error {
	return h.flags.SubmitFlag(ctx, h.cfg.OperatorAddress, pinnerAddress)
}

// GetPinnerInfo resolves a pinner address via the registry cache, falling
// back to the contract's get_pinner on miss or TTL expiry, with lazy
// eviction on read.
func (h *Hunter) GetPinnerInfo(ctx context.Context, address string) (*types.PinnerInfo, error) {
	if cached, err := h.store.PinnerCacheGet(ctx, address, h.cfg.PinnerCacheTTL); err == nil && cached != nil {
		return cached, nil
	}
	info, err := h.ledger.GetPinner(ctx, address)
	if err != nil {
		return nil, err
	}
	info.Multiaddr = normalizeMultiaddr(info.Multiaddr, address, h.log)
	info.CachedAt = time.Now().UTC()
	if err := h.store.PinnerCacheSet(ctx, info); err != nil {
		return nil, err
	}
	return &info, nil
}

// normalizeMultiaddr validates the pinner-reported multiaddr before it is
// cached and later handed to kubo's swarm/connect. A pinner that reports a
// malformed address is treated as having none, so the bitswap tier falls
// straight to its global-swarm check instead of failing the whole cycle on
// a parse error.
func normalizeMultiaddr(raw, pinnerAddress string, log *logrus.Logger) string {
	if raw == "" {
		return ""
	}
	addr, err := multiaddr.NewMultiaddr(raw)
	if err != nil {
		log.WithError(err).WithField("pinner", pinnerAddress).Warn("hunter: pinner reported an unparseable multiaddr, dropping it")
		return ""
	}
	return addr.String()
}
