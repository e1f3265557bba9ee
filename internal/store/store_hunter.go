package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hvym/pinnerd/internal/types"
)

// AddTrackedCID registers a cid we published that we wish to audit.
func (s *Store) AddTrackedCID(ctx context.Context, t types.TrackedCID) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tracked_cids (cid, cid_hash, slot_id, publisher, gateway, pin_qty)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.CID, t.CIDHash, t.SlotID, t.Publisher, t.Gateway, t.PinQty)
	return err
}

// GetTrackedCIDByHash resolves a PinnedEvent/UnpinEvent's cid_hash back to
// the TrackedCID it refers to, or nil if the hash is unknown.
func (s *Store) GetTrackedCIDByHash(ctx context.Context, cidHash string) (*types.TrackedCID, error) {
	var t types.TrackedCID
	var gw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT cid, cid_hash, slot_id, publisher, gateway, pin_qty FROM tracked_cids WHERE cid_hash = ?`,
		cidHash,
	).Scan(&t.CID, &t.CIDHash, &t.SlotID, &t.Publisher, &gw, &t.PinQty)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Gateway = gw.String
	return &t, nil
}

// AddTrackedPin inserts a (cid, pinner) pair with status=tracking if the
// composite key is unseen, deduplicating repeated PINNED events for the
// same (cid, pinner).
func (s *Store) AddTrackedPin(ctx context.Context, tp types.TrackedPin) (inserted bool, err error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if tp.ClaimedAt.IsZero() {
		tp.ClaimedAt = time.Now().UTC()
	}
	if tp.Status == "" {
		tp.Status = types.TPTracking
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tracked_pins
			(cid, pinner_address, pinner_node_id, pinner_multiaddr, slot_id, claimed_at,
			 consecutive_failures, total_checks, total_failures, status)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?)`,
		tp.CID, tp.PinnerAddress, tp.PinnerNodeID, tp.PinnerMultiaddr, tp.SlotID, tp.ClaimedAt,
		string(tp.Status))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanTrackedPin(row interface{ Scan(...interface{}) error }) (types.TrackedPin, error) {
	var tp types.TrackedPin
	var status string
	var nodeID, multiaddr, flagTxHash sql.NullString
	var lastVerified, lastChecked, flaggedAt sql.NullTime
	err := row.Scan(&tp.CID, &tp.PinnerAddress, &nodeID, &multiaddr, &tp.SlotID, &tp.ClaimedAt,
		&lastVerified, &lastChecked, &tp.ConsecutiveFailures, &tp.TotalChecks, &tp.TotalFailures,
		&status, &flaggedAt, &flagTxHash)
	if err != nil {
		return tp, err
	}
	tp.PinnerNodeID, tp.PinnerMultiaddr, tp.FlagTxHash = nodeID.String, multiaddr.String, flagTxHash.String
	tp.Status = types.TrackedPinStatus(status)
	if lastVerified.Valid {
		t := lastVerified.Time
		tp.LastVerifiedAt = &t
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		tp.LastCheckedAt = &t
	}
	if flaggedAt.Valid {
		t := flaggedAt.Time
		tp.FlaggedAt = &t
	}
	return tp, nil
}

const trackedPinColumns = `cid, pinner_address, pinner_node_id, pinner_multiaddr, slot_id, claimed_at,
	last_verified_at, last_checked_at, consecutive_failures, total_checks, total_failures,
	status, flagged_at, flag_tx_hash`

// GetTrackedPins returns tracked pins, optionally filtered to the given
// statuses (empty = all).
func (s *Store) GetTrackedPins(ctx context.Context, statusFilter []types.TrackedPinStatus) ([]types.TrackedPin, error) {
	q := `SELECT ` + trackedPinColumns + ` FROM tracked_pins`
	args := []interface{}{}
	if len(statusFilter) > 0 {
		placeholders := make([]string, len(statusFilter))
		for i, st := range statusFilter {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		q += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	q += ` ORDER BY consecutive_failures DESC, last_checked_at ASC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.TrackedPin
	for rows.Next() {
		tp, err := scanTrackedPin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

// GetTrackedPin fetches one (cid, pinner) row, or nil if absent.
func (s *Store) GetTrackedPin(ctx context.Context, cid, pinner string) (*types.TrackedPin, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackedPinColumns+` FROM tracked_pins WHERE cid = ? AND pinner_address = ?`, cid, pinner)
	tp, err := scanTrackedPin(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

// UpdateTrackedPin atomically replaces a tracked-pin row's mutable fields —
// the verifier's status + consecutive_failures write. consecutive_failures
// resets to 0 atomically with the status write on a passing check.
func (s *Store) UpdateTrackedPin(ctx context.Context, tp types.TrackedPin) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE tracked_pins SET
			pinner_node_id = ?, pinner_multiaddr = ?, last_verified_at = ?, last_checked_at = ?,
			consecutive_failures = ?, total_checks = ?, total_failures = ?, status = ?,
			flagged_at = ?, flag_tx_hash = ?
		WHERE cid = ? AND pinner_address = ?`,
		tp.PinnerNodeID, tp.PinnerMultiaddr, tp.LastVerifiedAt, tp.LastCheckedAt,
		tp.ConsecutiveFailures, tp.TotalChecks, tp.TotalFailures, string(tp.Status),
		tp.FlaggedAt, nullIfEmpty(tp.FlagTxHash),
		tp.CID, tp.PinnerAddress)
	return err
}

// MarkTrackedPinsSlotFreed transitions every TrackedPin of the TrackedCID
// identified by cid to slot_freed, as part of UNPIN event handling.
func (s *Store) MarkTrackedPinsSlotFreed(ctx context.Context, cid string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE tracked_pins SET status = ? WHERE cid = ? AND status != ?`,
		string(types.TPSlotFreed), cid, string(types.TPSlotFreed))
	return err
}

// RecordVerification appends one verification-attempt log row.
func (s *Store) RecordVerification(ctx context.Context, e types.VerificationLogEntry) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CheckedAt.IsZero() {
		e.CheckedAt = time.Now().UTC()
	}
	methods := make([]string, len(e.MethodsAttempted))
	for i, m := range e.MethodsAttempted {
		methods[i] = string(m)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_log (id, cid, pinner, passed, method_used, methods_attempted, duration_ms, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CID, e.Pinner, boolToInt(e.Passed), string(e.MethodUsed), strings.Join(methods, ","),
		e.DurationMS, e.CheckedAt)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AppendCycle appends one verification-cycle summary row.
func (s *Store) AppendCycle(ctx context.Context, c types.VerificationCycle) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_cycles
			(id, started_at, completed_at, total_checked, passed, failed, flagged, skipped, errors, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StartedAt, c.CompletedAt, c.TotalChecked, c.Passed, c.Failed, c.Flagged, c.Skipped, c.Errors, c.DurationMS)
	return err
}

// HasAlreadyFlagged scans local flag history for pinnerAddress, the flag
// submitter's pre-check before submitting a duplicate flag_pinner call.
func (s *Store) HasAlreadyFlagged(ctx context.Context, pinnerAddress string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flag_history WHERE pinner_address = ?`, pinnerAddress).Scan(&n)
	return n > 0, err
}

// SaveFlag appends a flag record, rejecting a duplicate pinner: at most
// one FlagRecord per pinner.
func (s *Store) SaveFlag(ctx context.Context, f types.FlagRecord) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if f.SubmittedAt.IsZero() {
		f.SubmittedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flag_history (pinner_address, tx_hash, flag_count_after, bounty_earned, submitted_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.PinnerAddress, f.TxHash, f.FlagCountAfter, f.BountyEarned, f.SubmittedAt)
	if err != nil {
		return fmt.Errorf("store: save flag (duplicate pinner rejected): %w", err)
	}
	return nil
}

// GetFlagHistory returns every flag record, oldest first.
func (s *Store) GetFlagHistory(ctx context.Context) ([]types.FlagRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pinner_address, tx_hash, flag_count_after, bounty_earned, submitted_at
		 FROM flag_history ORDER BY submitted_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.FlagRecord
	for rows.Next() {
		var f types.FlagRecord
		var flagCount sql.NullInt64
		var bounty sql.NullInt64
		if err := rows.Scan(&f.PinnerAddress, &f.TxHash, &flagCount, &bounty, &f.SubmittedAt); err != nil {
			return nil, err
		}
		if flagCount.Valid {
			v := int(flagCount.Int64)
			f.FlagCountAfter = &v
		}
		if bounty.Valid {
			v := bounty.Int64
			f.BountyEarned = &v
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// PinnerCacheGet returns a cached PinnerInfo, applying TTL-based lazy
// eviction: a stale row is treated as a miss but left in place for the
// caller to overwrite via PinnerCacheSet.
func (s *Store) PinnerCacheGet(ctx context.Context, address string, ttl time.Duration) (*types.PinnerInfo, error) {
	var info types.PinnerInfo
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT address, node_id, multiaddr, active, cached_at FROM pinner_cache WHERE address = ?`, address,
	).Scan(&info.Address, &info.NodeID, &info.Multiaddr, &active, &info.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info.Active = active != 0
	if time.Since(info.CachedAt) > ttl {
		return nil, nil
	}
	return &info, nil
}

// PinnerCacheSet writes/refreshes a cache entry.
func (s *Store) PinnerCacheSet(ctx context.Context, info types.PinnerInfo) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if info.CachedAt.IsZero() {
		info.CachedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pinner_cache (address, node_id, multiaddr, active, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET node_id=excluded.node_id, multiaddr=excluded.multiaddr,
			active=excluded.active, cached_at=excluded.cached_at`,
		info.Address, info.NodeID, info.Multiaddr, boolToInt(info.Active), info.CachedAt)
	return err
}
