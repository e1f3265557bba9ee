// Package ledgerclient is the capability abstraction over the Stellar-like
// ledger: event polling plus the contract methods the daemon invokes.
// Production code talks to a real RPC endpoint; tests substitute an
// in-memory fake satisfying the same interface — a protocol-style
// interface used as an explicit capability abstraction rather than for
// inheritance.
package ledgerclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hvym/pinnerd/internal/types"
)

// Sentinel errors the contract can return from collect_pin / flag_pinner,
// mapped by the claim submitter / flag submitter into offer/tracked-pin
// transitions.
var (
	ErrAlreadyClaimed = errors.New("ledger: already claimed")
	ErrSlotExpired    = errors.New("ledger: slot expired")
	ErrSlotNotActive  = errors.New("ledger: slot not active")
	ErrNotPinner      = errors.New("ledger: caller not a registered pinner")
	ErrAlreadyFlagged = errors.New("ledger: pinner already flagged")
)

// TransientError wraps a network/RPC/simulate failure that the caller
// should retry with backoff.
type TransientError struct{ Err error }

func (e TransientError) Error() string { return fmt.Sprintf("ledger: transient: %v", e.Err) }
func (e TransientError) Unwrap() error { return e.Err }

// SlotInfo is the result of get_slot.
type SlotInfo struct {
	SlotID        string
	PinsRemaining int
	Expired       bool
	EstimatedEnd  time.Time
}

// CollectResult is the return data of collect_pin.
type CollectResult struct {
	AmountEarned int64
	TxHash       string
}

// FlagResult is the return data of flag_pinner.
type FlagResult struct {
	TxHash         string
	FlagCountAfter int
	BountyEarned   *int64
}

// Client is the capability surface the daemon depends on. Implementations
// must be safe for concurrent reads; nothing here holds mutable shared
// state once constructed.
type Client interface {
	// PollEvents returns events strictly after sinceSeq, in ledger order.
	PollEvents(ctx context.Context, contractID string, sinceSeq uint64) ([]types.Event, error)

	SimulateFee(ctx context.Context) (int64, error)
	Balance(ctx context.Context, address string) (int64, error)

	GetSlot(ctx context.Context, slotID string) (SlotInfo, error)
	IsSlotExpired(ctx context.Context, slotID string) (bool, error)
	GetPinner(ctx context.Context, address string) (types.PinnerInfo, error)
	CurrentEpoch(ctx context.Context) (uint64, error)

	CollectPin(ctx context.Context, caller, slotID string) (CollectResult, error)
	FlagPinner(ctx context.Context, caller, pinnerAddress string) (FlagResult, error)
}

// HTTPClient is the Client that cmd/pinnerd wires in. It holds only a
// read-only *http.Client and base URL and no signing keypair. In this build
// it issues no requests: every method returns a TransientError without
// contacting the endpoint.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTP constructs a production ledger Client.
func NewHTTP(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// The concrete RPC wire format (Horizon-style REST + Soroban simulate/
// submit) is not implemented here. Each method below returns a
// TransientError unconditionally, so daemon/poller retry logic
// (internal/backoff) treats every call as a transport failure.

func (c *HTTPClient) PollEvents(ctx context.Context, contractID string, sinceSeq uint64) ([]types.Event, error) {
	return nil, TransientError{Err: fmt.Errorf("ledgerclient: PollEvents not wired to a live endpoint in this build")}
}

func (c *HTTPClient) SimulateFee(ctx context.Context) (int64, error) {
	return 0, TransientError{Err: errors.New("ledgerclient: SimulateFee not wired")}
}

func (c *HTTPClient) Balance(ctx context.Context, address string) (int64, error) {
	return 0, TransientError{Err: errors.New("ledgerclient: Balance not wired")}
}

func (c *HTTPClient) GetSlot(ctx context.Context, slotID string) (SlotInfo, error) {
	return SlotInfo{}, TransientError{Err: errors.New("ledgerclient: GetSlot not wired")}
}

func (c *HTTPClient) IsSlotExpired(ctx context.Context, slotID string) (bool, error) {
	return false, TransientError{Err: errors.New("ledgerclient: IsSlotExpired not wired")}
}

func (c *HTTPClient) GetPinner(ctx context.Context, address string) (types.PinnerInfo, error) {
	return types.PinnerInfo{}, TransientError{Err: errors.New("ledgerclient: GetPinner not wired")}
}

func (c *HTTPClient) CurrentEpoch(ctx context.Context) (uint64, error) {
	return 0, TransientError{Err: errors.New("ledgerclient: CurrentEpoch not wired")}
}

func (c *HTTPClient) CollectPin(ctx context.Context, caller, slotID string) (CollectResult, error) {
	return CollectResult{}, TransientError{Err: errors.New("ledgerclient: CollectPin not wired")}
}

func (c *HTTPClient) FlagPinner(ctx context.Context, caller, pinnerAddress string) (FlagResult, error) {
	return FlagResult{}, TransientError{Err: errors.New("ledgerclient: FlagPinner not wired")}
}
