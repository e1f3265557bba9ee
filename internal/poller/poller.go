// Package poller implements the event poller: pulls ledger events strictly
// after the last durable cursor, advances the cursor only after the batch
// is fully handed off, and backs off exponentially on transport failure so
// a flaky ledger RPC never busy-loops the daemon. Grounded on the teacher's
// core/cross_chain.go relay loop, which polls a remote chain on a fixed
// interval and only commits its own watermark once a batch is processed
// without error.
package poller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvym/pinnerd/internal/backoff"
	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/store"
	"github.com/hvym/pinnerd/internal/types"
)

// Poller wraps a ledgerclient.Client with cursor discipline.
type Poller struct {
	ledger     ledgerclient.Client
	store      *store.Store
	contractID string
	log        *logrus.Logger
	bo         *backoff.Exponential
}

// New builds a Poller.
func New(ledger ledgerclient.Client, st *store.Store, contractID string, log *logrus.Logger) *Poller {
	return &Poller{
		ledger:     ledger,
		store:      st,
		contractID: contractID,
		log:        log,
		bo:         backoff.NewExponential(500*time.Millisecond, 30*time.Second, 250*time.Millisecond),
	}
}

// Poll fetches every event strictly after the durable cursor and returns
// them in ledger order. On success the backoff state resets; the cursor is
// not moved here, the caller commits it with Advance once the batch is
// processed. On failure the caller should sleep for the returned backoff
// duration before retrying.
func (p *Poller) Poll(ctx context.Context) ([]types.Event, time.Duration, error) {
	cursor, err := p.store.GetCursor(ctx)
	if err != nil {
		return nil, 0, err
	}

	events, err := p.ledger.PollEvents(ctx, p.contractID, cursor)
	if err != nil {
		wait := p.bo.NextDuration()
		p.log.WithError(err).WithField("wait", wait).Warn("poller: transport error, backing off")
		return nil, wait, err
	}
	p.bo.Reset()

	// The cursor only advances once the caller has durably recorded every
	// event in this batch, via Advance — a crash between Poll and
	// processing replays the same batch on restart.
	return events, 0, nil
}

// Advance commits the cursor to the highest sequence number seen in a
// batch the caller has finished processing.
func (p *Poller) Advance(ctx context.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	cursor, err := p.store.GetCursor(ctx)
	if err != nil {
		return err
	}
	highest := cursor
	for _, e := range events {
		if seq := e.LedgerSequence(); seq > highest {
			highest = seq
		}
	}
	if highest <= cursor {
		return nil
	}
	return p.store.SetCursor(ctx, highest)
}
