package hunter

import (
	"context"
	"time"

	"github.com/hvym/pinnerd/internal/types"
)

// Verify runs the three-tier verification pipeline: dht_provider (cheap,
// informational), bitswap (always attempted — definitive possession
// test), and retrieval (optional, high-value cids). DHT presence never
// gates the overall verdict; only bitswap (or, if reached, retrieval)
// does, because presence in the DHT does not prove current possession.
//
// Network errors on a tier record passed=nil on that MethodOutcome and do
// not count as pass or fail; if every reachable tier errors, the overall
// result is Errored and must not move consecutive_failures.
func (h *Hunter) Verify(ctx context.Context, cid, nodeID, multiaddr string) types.VerificationResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.cfg.CheckTimeout)
	defer cancel()

	result := types.VerificationResult{CID: cid, CheckedAt: start}

	// Tier 1: dht_provider — informational only.
	dhtPass, dhtErr := h.checkDHTProvider(ctx, cid, nodeID)
	result.MethodsAttempted = append(result.MethodsAttempted, outcome(types.MethodDHTProvider, dhtPass, dhtErr))

	// Tier 2: bitswap — always attempted.
	bsPass, bsErr := h.checkBitswap(ctx, cid, multiaddr)
	result.MethodsAttempted = append(result.MethodsAttempted, outcome(types.MethodBitswap, bsPass, bsErr))

	bitswapDefinitive := bsErr == nil
	bitswapPassed := bsPass != nil && *bsPass

	if bitswapDefinitive && bitswapPassed {
		result.Passed = true
		result.MethodUsed = types.MethodBitswap
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}

	// Tier 3: retrieval — optional, attempted only when bitswap did not
	// pass (definitively failed, or errored and we still want a chance at
	// a definitive result for high-value cids).
	if h.cfg.RetrievalCheckEnabled {
		rPass, rErr := h.checkRetrieval(ctx, cid, multiaddr)
		result.MethodsAttempted = append(result.MethodsAttempted, outcome(types.MethodRetrieval, rPass, rErr))
		if rErr == nil {
			result.Passed = rPass != nil && *rPass
			result.MethodUsed = types.MethodRetrieval
			result.DurationMS = time.Since(start).Milliseconds()
			return result
		}
	}

	if !bitswapDefinitive {
		// No tier produced a definitive result: neither pass nor fail.
		result.Errored = true
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}

	result.Passed = false
	result.MethodUsed = types.MethodBitswap
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

func outcome(m types.VerificationMethod, passed *bool, err error) types.MethodOutcome {
	if err != nil {
		return types.MethodOutcome{Method: m, Passed: nil}
	}
	return types.MethodOutcome{Method: m, Passed: passed}
}

func (h *Hunter) checkDHTProvider(ctx context.Context, cid, nodeID string) (*bool, error) {
	providers, err := h.kubo.FindProvs(ctx, cid, 20)
	if err != nil {
		return nil, err
	}
	found := false
	for _, p := range providers {
		if p == nodeID {
			found = true
			break
		}
	}
	return &found, nil
}

func (h *Hunter) checkBitswap(ctx context.Context, cid, multiaddr string) (*bool, error) {
	if multiaddr != "" {
		if err := h.kubo.SwarmConnect(ctx, multiaddr); err != nil {
			return nil, err
		}
	}
	block, err := h.kubo.BlockGet(ctx, cid)
	if err != nil {
		return nil, err
	}
	ok := len(block) > 0
	return &ok, nil
}

func (h *Hunter) checkRetrieval(ctx context.Context, cid, multiaddr string) (*bool, error) {
	data, err := h.kubo.Cat(ctx, cid, 1024)
	if err != nil {
		return nil, err
	}
	ok := len(data) > 0
	return &ok, nil
}
