// Package mode implements the mode controller: routes an accepted offer
// either directly into the execute-and-claim path (AUTO) or into the
// approval queue (APPROVE), and exposes a durable runtime mode switch.
package mode

import (
	"context"

	"github.com/hvym/pinnerd/internal/store"
	"github.com/hvym/pinnerd/internal/types"
)

// ExecuteAndClaim runs the executor + claim submitter pipeline for one
// offer. Injected by the daemon to avoid an import cycle between mode and
// the packages that actually perform I/O.
type ExecuteAndClaim func(ctx context.Context, slotID string) error

// Controller routes accepted offers per the current daemon mode.
type Controller struct {
	store           *store.Store
	executeAndClaim ExecuteAndClaim
}

// New builds a Controller.
func New(st *store.Store, exec ExecuteAndClaim) *Controller {
	return &Controller{store: st, executeAndClaim: exec}
}

// GetMode returns the current runtime mode.
func (c *Controller) GetMode(ctx context.Context) (types.Mode, error) {
	cfg, err := c.store.GetDaemonConfig(ctx)
	return cfg.Mode, err
}

// SetMode durably switches mode. Switching AUTO -> APPROVE leaves
// already-approved offers to run once; switching APPROVE -> AUTO does NOT
// auto-execute already-queued awaiting_approval offers — resuming those
// requires explicit operator approval, not just a mode flip.
func (c *Controller) SetMode(ctx context.Context, m types.Mode) error {
	return c.store.SetDaemonConfig(ctx, &m, nil, nil)
}

// HandleAcceptedOffer routes an offer the filter accepted: AUTO executes
// inline, APPROVE queues it.
func (c *Controller) HandleAcceptedOffer(ctx context.Context, slotID string) error {
	mode, err := c.GetMode(ctx)
	if err != nil {
		return err
	}
	switch mode {
	case types.ModeApprove:
		return c.store.UpdateOfferStatus(ctx, slotID, types.StatusAwaitingApproval, "")
	default: // AUTO
		return c.executeAndClaim(ctx, slotID)
	}
}
