// Package types holds the domain model shared across the daemon: offer
// lifecycle, ledger events, and the hunter's tracked-pin records. Nothing in
// this package touches I/O; it is the vocabulary every other package speaks.
package types

import "time"

// Mode selects how accepted offers are routed by the mode controller.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeApprove Mode = "approve"
)

// OfferStatus is the closed set of states in the offer lifecycle state
// machine. Terminal statuses must never be left once entered.
type OfferStatus string

const (
	StatusPending           OfferStatus = "pending"
	StatusRejected          OfferStatus = "rejected"
	StatusAwaitingApproval  OfferStatus = "awaiting_approval"
	StatusApproved          OfferStatus = "approved"
	StatusPinning           OfferStatus = "pinning"
	StatusPinned            OfferStatus = "pinned"
	StatusClaiming          OfferStatus = "claiming"
	StatusClaimed           OfferStatus = "claimed"
	StatusPinFailed         OfferStatus = "pin_failed"
	StatusClaimFailed       OfferStatus = "claim_failed"
	StatusExpired           OfferStatus = "expired"
	StatusFilled            OfferStatus = "filled"
)

// terminalStatuses never transition further. StatusClaimed and
// StatusClaimFailed are both deliberately excluded: a claimed offer can
// still move to filled once the operator's own pin satisfies the slot's
// remaining pin count, and a claim_failed offer can still re-enter
// claiming via crash recovery.
var terminalStatuses = map[OfferStatus]bool{
	StatusRejected:  true,
	StatusPinFailed: true,
	StatusExpired:   true,
	StatusFilled:    true,
}

// IsTerminal reports whether s is a terminal offer status.
func IsTerminal(s OfferStatus) bool { return terminalStatuses[s] }

// legalTransitions enumerates every edge the offer lifecycle permits. A
// transition not listed here is rejected by the store.
var legalTransitions = map[OfferStatus]map[OfferStatus]bool{
	StatusPending: {
		StatusRejected:         true,
		StatusAwaitingApproval: true,
		StatusPinning:          true,
		StatusExpired:          true,
	},
	StatusAwaitingApproval: {
		StatusApproved: true,
		StatusRejected: true,
		StatusExpired:  true,
	},
	StatusApproved: {
		StatusPinning: true,
		StatusExpired: true,
	},
	StatusPinning: {
		StatusPinned:    true,
		StatusPinFailed: true,
		StatusExpired:   true,
	},
	StatusPinned: {
		StatusClaiming: true,
		StatusExpired:  true,
		StatusFilled:   true,
	},
	StatusClaiming: {
		StatusClaimed:     true,
		StatusClaimFailed: true,
		StatusExpired:     true,
	},
	StatusClaimFailed: {
		// retryable on restart: re-enters claiming via crash recovery.
		StatusClaiming: true,
		StatusExpired:  true,
	},
	StatusClaimed: {
		StatusFilled: true,
	},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// in the offer state machine. A terminal `from` never permits a transition,
// matching the invariant that an offer never leaves a terminal state.
func CanTransition(from, to OfferStatus) bool {
	if IsTerminal(from) {
		return false
	}
	return legalTransitions[from][to]
}

// RejectReason is the exhaustive, ordered set of filter rejection reasons.
type RejectReason string

const (
	ReasonAlreadySeenClaimed RejectReason = "already_seen_claimed"
	ReasonCIDAlreadyPinned   RejectReason = "cid_already_pinned"
	ReasonPriceTooLow        RejectReason = "price_too_low"
	ReasonSlotNotActive      RejectReason = "slot_not_active"
	ReasonContentTooLarge    RejectReason = "content_too_large"
	ReasonInsufficientXLM    RejectReason = "insufficient_xlm"
	ReasonUnprofitable       RejectReason = "unprofitable"
	ReasonOperatorRejected   RejectReason = "operator_rejected"
)

// Offer mirrors the persisted `offers` row.
type Offer struct {
	SlotID             string
	CID                string
	Filename           string
	Gateway            string
	OfferPrice         int64
	PinQty             int
	PinsRemaining      int
	Publisher          string
	LedgerSequenceSeen uint64
	Status             OfferStatus
	RejectReason       RejectReason
	NetProfit          *int64
	EstimatedExpiry    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Claim mirrors an append-only `claims` row.
type Claim struct {
	SlotID       string
	CID          string
	AmountEarned int64
	TxHash       string
	ClaimedAt    time.Time
}

// Pin mirrors a `pins` row: a cid the local storage node holds under our
// ownership.
type Pin struct {
	CID         string
	SlotID      string
	BytesPinned int64
	PinnedAt    time.Time
}

// ActivityEntry is an append-only, non-authoritative feed row.
type ActivityEntry struct {
	ID        string
	EventType string
	SlotID    string
	CID       string
	Amount    *int64
	Message   string
	CreatedAt time.Time
}

// DaemonConfig is the singleton, runtime-mutable policy record.
type DaemonConfig struct {
	Mode            Mode
	MinPrice        int64
	MaxContentSize  int64
}

// --- ledger events -----------------------------------------------------

// EventKind discriminates the tagged union of ledger events the poller
// recognizes.
type EventKind string

const (
	EventPin    EventKind = "PIN"
	EventPinned EventKind = "PINNED"
	EventUnpin  EventKind = "UNPIN"
)

// PinEvent is the only event variant carrying the raw cid.
type PinEvent struct {
	SlotID          string
	CID             string
	Filename        string
	Gateway         string
	OfferPrice      int64
	PinQty          int
	Publisher       string
	LedgerSequence  uint64
}

// PinnedEvent reports that some pinner claimed a slot. It carries only the
// cid hash; consumers needing the cid must look it up via SlotID.
type PinnedEvent struct {
	SlotID         string
	CIDHash        string // hex sha256(cid)
	Pinner         string
	Amount         int64
	PinsRemaining  int
	LedgerSequence uint64
}

// UnpinEvent reports a slot being unpinned.
type UnpinEvent struct {
	SlotID         string
	CIDHash        string
	LedgerSequence uint64
}

// Event is the tagged sum of the three variants the poller can deliver.
// Exactly one of the pointer fields is non-nil.
type Event struct {
	Kind   EventKind
	Pin    *PinEvent
	Pinned *PinnedEvent
	Unpin  *UnpinEvent
}

// LedgerSequence returns the sequence number carried by whichever variant
// is populated.
func (e Event) LedgerSequence() uint64 {
	switch e.Kind {
	case EventPin:
		return e.Pin.LedgerSequence
	case EventPinned:
		return e.Pinned.LedgerSequence
	case EventUnpin:
		return e.Unpin.LedgerSequence
	default:
		return 0
	}
}

// --- hunter types --------------------------------------------------------

// TrackedPinStatus is the closed set of TrackedPin states.
type TrackedPinStatus string

const (
	TPTracking      TrackedPinStatus = "tracking"
	TPVerified      TrackedPinStatus = "verified"
	TPSuspect       TrackedPinStatus = "suspect"
	TPFlagSubmitted TrackedPinStatus = "flag_submitted"
	TPSlotFreed     TrackedPinStatus = "slot_freed"
)

// TrackedCID is a cid we published that we wish to audit.
type TrackedCID struct {
	CID       string
	CIDHash   string
	SlotID    string
	Publisher string
	Gateway   string
	PinQty    int
}

// TrackedPin is a (cid, pinner) pair under audit.
type TrackedPin struct {
	CID                 string
	PinnerAddress       string
	PinnerNodeID        string
	PinnerMultiaddr     string
	SlotID              string
	ClaimedAt           time.Time
	LastVerifiedAt      *time.Time
	LastCheckedAt       *time.Time
	ConsecutiveFailures int
	TotalChecks         int
	TotalFailures       int
	Status              TrackedPinStatus
	FlaggedAt           *time.Time
	FlagTxHash          string
}

// VerificationMethod names one tier of the verifier pipeline.
type VerificationMethod string

const (
	MethodDHTProvider VerificationMethod = "dht_provider"
	MethodBitswap     VerificationMethod = "bitswap"
	MethodRetrieval   VerificationMethod = "retrieval"
)

// MethodOutcome records the attempt/result of one verification tier.
// Passed is nil when the method errored (neither pass nor fail).
type MethodOutcome struct {
	Method VerificationMethod
	Passed *bool
}

// VerificationResult is the outcome of one verify() call.
type VerificationResult struct {
	CID               string
	Pinner            string
	Passed            bool
	Errored           bool
	MethodUsed        VerificationMethod
	MethodsAttempted  []MethodOutcome
	DurationMS        int64
	CheckedAt         time.Time
}

// VerificationLogEntry mirrors the append-only `verification_log` row.
type VerificationLogEntry struct {
	ID               string
	CID              string
	Pinner           string
	Passed           bool
	MethodUsed       VerificationMethod
	MethodsAttempted []VerificationMethod
	DurationMS       int64
	CheckedAt        time.Time
}

// VerificationCycle mirrors the append-only `verification_cycles` summary row.
type VerificationCycle struct {
	ID           string
	StartedAt    time.Time
	CompletedAt  time.Time
	TotalChecked int
	Passed       int
	Failed       int
	Flagged      int
	Skipped      int
	Errors       int
	DurationMS   int64
}

// FlagRecord mirrors an append-only `flag_history` row.
type FlagRecord struct {
	PinnerAddress  string
	TxHash         string
	FlagCountAfter *int
	BountyEarned   *int64
	SubmittedAt    time.Time
}

// PinnerInfo is the registry-cache payload.
type PinnerInfo struct {
	Address   string
	NodeID    string
	Multiaddr string
	Active    bool
	CachedAt  time.Time
}
