package hunter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hvym/pinnerd/internal/types"
)

// RunCycle executes one verification pass over every tracked pin that is
// due (status in {tracking, verified, suspect} and past cooldown_after_flag).
// Checks run under a bounded semaphore so a slow gateway never starves the
// rest of the cycle; a running guard prevents overlapping cycles if one
// runs long.
func (h *Hunter) RunCycle(ctx context.Context) (types.VerificationCycle, error) {
	if h.running {
		return types.VerificationCycle{}, nil
	}
	h.running = true
	defer func() { h.running = false }()

	start := time.Now()
	cycle := types.VerificationCycle{ID: uuid.NewString(), StartedAt: start}

	pins, err := h.store.GetTrackedPins(ctx, []types.TrackedPinStatus{
		types.TPTracking, types.TPVerified, types.TPSuspect,
	})
	if err != nil {
		return cycle, err
	}

	due := make([]types.TrackedPin, 0, len(pins))
	for _, tp := range pins {
		if h.dueForCheck(tp) {
			due = append(due, tp)
		} else {
			cycle.Skipped++
		}
	}

	sem := semaphore.NewWeighted(int64(maxInt(1, h.cfg.MaxConcurrentChecks)))
	results := make(chan cycleOutcome, len(due))

	for _, tp := range due {
		tp := tp
		if err := sem.Acquire(ctx, 1); err != nil {
			results <- cycleOutcome{}
			continue
		}
		go func() {
			defer sem.Release(1)
			results <- h.checkOne(ctx, tp)
		}()
	}

	for i := 0; i < len(due); i++ {
		out := <-results
		switch {
		case out.errored:
			cycle.Errors++
		case out.passed:
			cycle.Passed++
		default:
			cycle.Failed++
			if out.flagged {
				cycle.Flagged++
			}
		}
	}

	cycle.TotalChecked = len(due)
	cycle.CompletedAt = time.Now().UTC()
	cycle.DurationMS = time.Since(start).Milliseconds()

	if err := h.store.AppendCycle(ctx, cycle); err != nil {
		return cycle, err
	}
	return cycle, nil
}

// dueForCheck reports whether tp should be checked this cycle: never
// flagged, or its post-flag cooldown has elapsed.
func (h *Hunter) dueForCheck(tp types.TrackedPin) bool {
	if tp.FlaggedAt == nil {
		return true
	}
	return time.Since(*tp.FlaggedAt) >= h.cfg.CooldownAfterFlag
}

type cycleOutcome struct {
	passed  bool
	errored bool
	flagged bool
}

// checkOne verifies a single tracked pin, writes the log entry, updates the
// tracked-pin row (atomic consecutive_failures reset/increment), and
// submits a flag once the failure threshold is crossed.
func (h *Hunter) checkOne(ctx context.Context, tp types.TrackedPin) cycleOutcome {
	result := h.Verify(ctx, tp.CID, tp.PinnerNodeID, tp.PinnerMultiaddr)

	methods := make([]types.VerificationMethod, len(result.MethodsAttempted))
	for i, m := range result.MethodsAttempted {
		methods[i] = m.Method
	}
	logErr := h.store.RecordVerification(ctx, types.VerificationLogEntry{
		CID:              tp.CID,
		Pinner:           tp.PinnerAddress,
		Passed:           result.Passed,
		MethodUsed:       result.MethodUsed,
		MethodsAttempted: methods,
		DurationMS:       result.DurationMS,
		CheckedAt:        result.CheckedAt,
	})
	if logErr != nil {
		h.log.WithError(logErr).Warn("hunter: failed to record verification log entry")
	}

	now := time.Now().UTC()
	tp.LastCheckedAt = &now
	tp.TotalChecks++

	if result.Errored {
		// Neither pass nor fail: leave consecutive_failures untouched.
		if err := h.store.UpdateTrackedPin(ctx, tp); err != nil {
			h.log.WithError(err).Warn("hunter: failed to persist tracked pin after errored check")
		}
		return cycleOutcome{errored: true}
	}

	if result.Passed {
		tp.LastVerifiedAt = &now
		tp.ConsecutiveFailures = 0
		tp.Status = types.TPVerified
		if err := h.store.UpdateTrackedPin(ctx, tp); err != nil {
			h.log.WithError(err).Warn("hunter: failed to persist tracked pin after passed check")
		}
		return cycleOutcome{passed: true}
	}

	tp.TotalFailures++
	tp.ConsecutiveFailures++
	tp.Status = types.TPSuspect

	flagged := false
	if tp.ConsecutiveFailures >= h.cfg.FailureThreshold {
		if err := h.flags.SubmitFlag(ctx, h.cfg.OperatorAddress, tp.PinnerAddress); err != nil {
			h.log.WithError(err).WithField("pinner", tp.PinnerAddress).Error("hunter: flag submission failed")
		} else {
			flagged = true
			tp.Status = types.TPFlagSubmitted
			tp.FlaggedAt = &now
		}
	}

	if err := h.store.UpdateTrackedPin(ctx, tp); err != nil {
		h.log.WithError(err).Warn("hunter: failed to persist tracked pin after failed check")
	}
	return cycleOutcome{passed: false, flagged: flagged}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
