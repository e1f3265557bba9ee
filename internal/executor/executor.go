// Package executor implements the three-step pin pipeline: fetch from the
// publisher gateway, add to the local storage node with the publisher's
// exact chunking/hashing parameters, verify the resulting cid matches the
// offer, then pin. Grounded on the teacher's core/storage.go Storage.Pin,
// which performs this same fetch/hash/compare/cache sequence against a
// single gateway; here fetch and add are split across two distinct
// endpoints (publisher gateway vs. local kubo RPC), with explicit
// per-step timeouts and bounded retries.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvym/pinnerd/internal/backoff"
	"github.com/hvym/pinnerd/internal/cidutil"
	"github.com/hvym/pinnerd/internal/gateway"
	"github.com/hvym/pinnerd/internal/kubo"
)

// ErrCIDMismatch is fatal and non-retryable: the content bytes did not hash
// to the offered cid.
var ErrCIDMismatch = errors.New("executor: cid mismatch between add result and offer")

// DefaultMaxRetries bounds retries per step. Every failure except
// gateway.ErrTooLarge is retried, whatever its cause; 4xx responses are
// retried the same as network and 5xx failures.
const DefaultMaxRetries = 3

// Result is the outcome of one pin() call.
type Result struct {
	Success     bool
	CID         string
	BytesPinned int64
	Err         error
	Fatal       bool // true for cid_mismatch and similar non-retryable errors
	DurationMS  int64
}

// Executor drives fetch -> add -> verify -> pin for one offer at a time;
// there is no cross-offer fan-out.
type Executor struct {
	gw         *gateway.Client
	kubo       *kubo.Client
	log        *logrus.Logger
	maxRetries int
}

// New builds an Executor.
func New(gw *gateway.Client, kuboClient *kubo.Client, log *logrus.Logger) *Executor {
	return &Executor{gw: gw, kubo: kuboClient, log: log, maxRetries: DefaultMaxRetries}
}

// Pin runs the full pipeline for one offer's cid, fetched from gatewayBase.
func (e *Executor) Pin(ctx context.Context, cid, gatewayBase string, maxContentSize int64) Result {
	start := time.Now()

	data, err := e.retryFetch(ctx, gatewayBase, cid, maxContentSize)
	if err != nil {
		return Result{Success: false, CID: cid, Err: err, DurationMS: ms(start)}
	}

	added, err := e.retryAdd(ctx, data)
	if err != nil {
		return Result{Success: false, CID: cid, Err: err, DurationMS: ms(start)}
	}

	equal, err := cidutil.Equal(added.Hash, cid)
	if err != nil || !equal {
		e.log.WithFields(logrus.Fields{"offered_cid": cid, "add_result": added.Hash}).
			Error("executor: cid mismatch, refusing to pin")
		return Result{Success: false, CID: cid, Err: ErrCIDMismatch, Fatal: true, DurationMS: ms(start)}
	}

	if err := e.retryPinAdd(ctx, cid); err != nil {
		return Result{Success: false, CID: cid, Err: err, DurationMS: ms(start)}
	}

	confirmed, err := e.kubo.PinLS(ctx, cid)
	if err != nil || !confirmed {
		return Result{Success: false, CID: cid, Err: errors.New("executor: pin/ls did not confirm cid"), DurationMS: ms(start)}
	}

	return Result{Success: true, CID: cid, BytesPinned: int64(len(data)), DurationMS: ms(start)}
}

// VerifyPinned confirms cid is in the local pinned set.
func (e *Executor) VerifyPinned(ctx context.Context, cid string) (bool, error) {
	return e.kubo.PinLS(ctx, cid)
}

// Unpin removes cid from the local pinned set. Only invoked for UNPIN
// events when the daemon is configured to do so; the default policy keeps
// the pin.
func (e *Executor) Unpin(ctx context.Context, cid string) (bool, error) {
	if err := e.kubo.PinRM(ctx, cid); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Executor) retryFetch(ctx context.Context, gatewayBase, cid string, maxBytes int64) ([]byte, error) {
	bo := backoff.NewExponential(200*time.Millisecond, 10*time.Second, 100*time.Millisecond)
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		data, err := e.gw.Fetch(ctx, gatewayBase, cid, maxBytes)
		if err == nil {
			return data, nil
		}
		var tooLarge gateway.ErrTooLarge
		if errors.As(err, &tooLarge) {
			return nil, err // fatal, not retried
		}
		lastErr = err
		if attempt < e.maxRetries {
			wait(ctx, bo.NextDuration())
		}
	}
	return nil, lastErr
}

func (e *Executor) retryAdd(ctx context.Context, data []byte) (kubo.AddResult, error) {
	bo := backoff.NewExponential(200*time.Millisecond, 10*time.Second, 100*time.Millisecond)
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		res, err := e.kubo.Add(ctx, data)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt < e.maxRetries {
			wait(ctx, bo.NextDuration())
		}
	}
	return kubo.AddResult{}, lastErr
}

func (e *Executor) retryPinAdd(ctx context.Context, cid string) error {
	bo := backoff.NewExponential(200*time.Millisecond, 10*time.Second, 100*time.Millisecond)
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		err := e.kubo.PinAdd(ctx, cid)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < e.maxRetries {
			wait(ctx, bo.NextDuration())
		}
	}
	return lastErr
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func ms(start time.Time) int64 { return time.Since(start).Milliseconds() }
