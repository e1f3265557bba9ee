// Package store is the daemon's single durable source of truth. Every
// mutation goes through one of its operations; each commits atomically
// or fails without partial change. It is safe to reopen against an existing
// database file and upgrades its schema idempotently on first open.
//
// Grounded on the teacher's core/cross_chain.go KVStore abstraction
// (Set/Get/Delete behind CurrentStore()), generalized here to a relational
// schema because the offer/claim/tracked-pin invariants need tables with
// primary keys and uniqueness constraints enforced by the store itself — a bare KV map
// cannot express the offer/claim/tracked-pin invariants. modernc.org/sqlite
// is a pure-Go driver (see DESIGN.md), so the daemon still ships as a
// single static binary the way the teacher's other cmd/ tools do.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/hvym/pinnerd/internal/types"
)

// Store wraps one sqlite database connection. Writes are serialized with a
// single write mutex. The pool is capped at one open connection, so reads
// also queue behind each other and behind any write in progress.
type Store struct {
	db   *sql.DB
	log  *zap.SugaredLogger
	wmu  sync.Mutex // serializes writers beyond what SetMaxOpenConns(1) alone provides during multi-statement transactions
}

// Open opens (or creates) the database at path and migrates its schema.
func Open(path string, zlog *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // one writer; sqlite serializes regardless, this avoids busy-retry storms

	if zlog == nil {
		zlog = zap.NewNop()
	}
	s := &Store{db: db, log: zlog.Sugar()}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cursor (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			ledger_sequence INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daemon_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			mode TEXT NOT NULL,
			min_price INTEGER NOT NULL,
			max_content_size INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS offers (
			slot_id TEXT PRIMARY KEY,
			cid TEXT NOT NULL,
			filename TEXT,
			gateway TEXT NOT NULL,
			offer_price INTEGER NOT NULL,
			pin_qty INTEGER NOT NULL,
			pins_remaining INTEGER NOT NULL,
			publisher TEXT NOT NULL,
			ledger_sequence_seen INTEGER NOT NULL,
			status TEXT NOT NULL,
			reject_reason TEXT,
			net_profit INTEGER,
			estimated_expiry DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_status ON offers(status)`,
		`CREATE TABLE IF NOT EXISTS claims (
			slot_id TEXT PRIMARY KEY,
			cid TEXT NOT NULL,
			amount_earned INTEGER NOT NULL,
			tx_hash TEXT NOT NULL,
			claimed_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pins (
			cid TEXT PRIMARY KEY,
			slot_id TEXT,
			bytes_pinned INTEGER NOT NULL,
			pinned_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			slot_id TEXT,
			cid TEXT,
			amount INTEGER,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at)`,
		`CREATE TABLE IF NOT EXISTS tracked_cids (
			cid TEXT PRIMARY KEY,
			cid_hash TEXT NOT NULL UNIQUE,
			slot_id TEXT NOT NULL,
			publisher TEXT NOT NULL,
			gateway TEXT,
			pin_qty INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_pins (
			cid TEXT NOT NULL,
			pinner_address TEXT NOT NULL,
			pinner_node_id TEXT,
			pinner_multiaddr TEXT,
			slot_id TEXT,
			claimed_at DATETIME NOT NULL,
			last_verified_at DATETIME,
			last_checked_at DATETIME,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			total_checks INTEGER NOT NULL DEFAULT 0,
			total_failures INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			flagged_at DATETIME,
			flag_tx_hash TEXT,
			PRIMARY KEY (cid, pinner_address)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tracked_pins_status ON tracked_pins(status)`,
		`CREATE TABLE IF NOT EXISTS verification_log (
			id TEXT PRIMARY KEY,
			cid TEXT NOT NULL,
			pinner TEXT NOT NULL,
			passed INTEGER NOT NULL,
			method_used TEXT,
			methods_attempted TEXT,
			duration_ms INTEGER NOT NULL,
			checked_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS verification_cycles (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL,
			total_checked INTEGER NOT NULL,
			passed INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			flagged INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS flag_history (
			pinner_address TEXT PRIMARY KEY,
			tx_hash TEXT NOT NULL,
			flag_count_after INTEGER,
			bounty_earned INTEGER,
			submitted_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pinner_cache (
			address TEXT PRIMARY KEY,
			node_id TEXT,
			multiaddr TEXT,
			active INTEGER NOT NULL,
			cached_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}

	// Seed singletons idempotently.
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cursor (id, ledger_sequence) VALUES (1, 0)`); err != nil {
		return fmt.Errorf("store: seed cursor: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO daemon_config (id, mode, min_price, max_content_size) VALUES (1, 'auto', 0, 67108864)`); err != nil {
		return fmt.Errorf("store: seed config: %w", err)
	}
	return nil
}

func newID() string { return uuid.New().String() }

// --- cursor --------------------------------------------------------------

// GetCursor returns the highest ledger sequence fully ingested.
func (s *Store) GetCursor(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx, `SELECT ledger_sequence FROM cursor WHERE id = 1`).Scan(&seq)
	return seq, err
}

// SetCursor advances the cursor. Callers must ensure all events up to seq
// are durably recorded before calling this; store itself does not
// re-derive that guarantee.
func (s *Store) SetCursor(ctx context.Context, seq uint64) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	cur, err := s.GetCursor(ctx)
	if err != nil {
		return err
	}
	if seq < cur {
		return fmt.Errorf("store: cursor must be monotonically non-decreasing: have %d, got %d", cur, seq)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE cursor SET ledger_sequence = ? WHERE id = 1`, seq)
	return err
}

// --- config ---------------------------------------------------------------

// GetDaemonConfig returns the current runtime policy.
func (s *Store) GetDaemonConfig(ctx context.Context) (types.DaemonConfig, error) {
	var cfg types.DaemonConfig
	var mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT mode, min_price, max_content_size FROM daemon_config WHERE id = 1`,
	).Scan(&mode, &cfg.MinPrice, &cfg.MaxContentSize)
	cfg.Mode = types.Mode(mode)
	return cfg, err
}

// SeedDaemonConfig applies file/env-sourced defaults to the daemon_config
// singleton the first time it is ever touched, without clobbering policy an
// operator has since changed at runtime via SetDaemonConfig. It only writes
// when the row is still at the hardcoded migration defaults, so a restart
// with a changed config file never silently overrides a durable runtime
// policy change — policy changes are durable and effective immediately,
// and must survive a restart.
func (s *Store) SeedDaemonConfig(ctx context.Context, mode types.Mode, minPrice, maxContentSize int64) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE daemon_config SET mode = ?, min_price = ?, max_content_size = ?
		 WHERE id = 1 AND mode = 'auto' AND min_price = 0 AND max_content_size = 67108864`,
		string(mode), minPrice, maxContentSize)
	return err
}

// SetDaemonConfig updates whichever fields are non-nil, durably and
// immediately — effective on the next event processed.
func (s *Store) SetDaemonConfig(ctx context.Context, mode *types.Mode, minPrice, maxContentSize *int64) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	cur, err := s.GetDaemonConfig(ctx)
	if err != nil {
		return err
	}
	if mode != nil {
		cur.Mode = *mode
	}
	if minPrice != nil {
		cur.MinPrice = *minPrice
	}
	if maxContentSize != nil {
		cur.MaxContentSize = *maxContentSize
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE daemon_config SET mode = ?, min_price = ?, max_content_size = ? WHERE id = 1`,
		string(cur.Mode), cur.MinPrice, cur.MaxContentSize)
	return err
}

// --- offers ----------------------------------------------------------------

// SaveOffer inserts the offer if slot_id is unseen (insert-or-ignore),
// making offer intake idempotent against cursor-resumption replay:
// first-writer-wins on a repeated save_offer.
func (s *Store) SaveOffer(ctx context.Context, ev types.PinEvent, initialStatus types.OfferStatus) (inserted bool, err error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO offers
			(slot_id, cid, filename, gateway, offer_price, pin_qty, pins_remaining,
			 publisher, ledger_sequence_seen, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SlotID, ev.CID, ev.Filename, ev.Gateway, ev.OfferPrice, ev.PinQty, ev.PinQty,
		ev.Publisher, ev.LedgerSequence, string(initialStatus), now, now)
	if err != nil {
		return false, fmt.Errorf("store: save offer: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanOffer(row interface{ Scan(...interface{}) error }) (types.Offer, error) {
	var o types.Offer
	var status, filename, gateway, publisher string
	var rejectReason sql.NullString
	var netProfit sql.NullInt64
	var estExpiry sql.NullTime
	err := row.Scan(&o.SlotID, &o.CID, &filename, &gateway, &o.OfferPrice, &o.PinQty, &o.PinsRemaining,
		&publisher, &o.LedgerSequenceSeen, &status, &rejectReason, &netProfit, &estExpiry,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	o.Filename, o.Gateway, o.Publisher = filename, gateway, publisher
	o.Status = types.OfferStatus(status)
	if rejectReason.Valid {
		o.RejectReason = types.RejectReason(rejectReason.String)
	}
	if netProfit.Valid {
		v := netProfit.Int64
		o.NetProfit = &v
	}
	if estExpiry.Valid {
		t := estExpiry.Time
		o.EstimatedExpiry = &t
	}
	return o, nil
}

const offerColumns = `slot_id, cid, filename, gateway, offer_price, pin_qty, pins_remaining,
	publisher, ledger_sequence_seen, status, reject_reason, net_profit, estimated_expiry,
	created_at, updated_at`

// GetOffer fetches one offer by slot id, or nil if absent.
func (s *Store) GetOffer(ctx context.Context, slotID string) (*types.Offer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE slot_id = ?`, slotID)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOfferStatus transitions an offer's status, rejecting any edge the
// state machine (internal/types) does not permit, and never leaving a
// terminal state.
func (s *Store) UpdateOfferStatus(ctx context.Context, slotID string, newStatus types.OfferStatus, reason types.RejectReason) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var cur string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM offers WHERE slot_id = ?`, slotID).Scan(&cur)
	if err == sql.ErrNoRows {
		return fmt.Errorf("store: update offer status: unknown slot %s", slotID)
	}
	if err != nil {
		return err
	}
	from := types.OfferStatus(cur)
	if !types.CanTransition(from, newStatus) {
		return fmt.Errorf("store: illegal offer transition %s -> %s for slot %s", from, newStatus, slotID)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE offers SET status = ?, reject_reason = ?, updated_at = ? WHERE slot_id = ?`,
		string(newStatus), nullableReason(reason), time.Now().UTC(), slotID)
	return err
}

func nullableReason(r types.RejectReason) interface{} {
	if r == "" {
		return nil
	}
	return string(r)
}

// SetOfferProfit records the filter's computed net_profit/estimated_expiry
// alongside the initial save (used by the filter/mode-controller wiring).
func (s *Store) SetOfferProfit(ctx context.Context, slotID string, netProfit int64, estimatedExpiry *time.Time) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE offers SET net_profit = ?, estimated_expiry = ?, updated_at = ? WHERE slot_id = ?`,
		netProfit, estimatedExpiry, time.Now().UTC(), slotID)
	return err
}

// SetOfferPinsRemaining updates pins_remaining, e.g. from a PINNED event.
func (s *Store) SetOfferPinsRemaining(ctx context.Context, slotID string, remaining int) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE offers SET pins_remaining = ?, updated_at = ? WHERE slot_id = ?`,
		remaining, time.Now().UTC(), slotID)
	return err
}

// GetOffersByStatus returns all offers in the given status.
func (s *Store) GetOffersByStatus(ctx context.Context, status types.OfferStatus) ([]types.Offer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetApprovalQueue returns offers awaiting an operator decision.
func (s *Store) GetApprovalQueue(ctx context.Context) ([]types.Offer, error) {
	return s.GetOffersByStatus(ctx, types.StatusAwaitingApproval)
}

// --- claims ----------------------------------------------------------------

// SaveClaim appends a claim row, rejecting a duplicate slot_id: at most
// one Claim per slot.
func (s *Store) SaveClaim(ctx context.Context, c types.Claim) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if c.ClaimedAt.IsZero() {
		c.ClaimedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (slot_id, cid, amount_earned, tx_hash, claimed_at) VALUES (?, ?, ?, ?, ?)`,
		c.SlotID, c.CID, c.AmountEarned, c.TxHash, c.ClaimedAt)
	if err != nil {
		return fmt.Errorf("store: save claim (duplicate slot_id rejected): %w", err)
	}
	return nil
}

// GetClaim returns the claim for slotID, or nil if none exists.
func (s *Store) GetClaim(ctx context.Context, slotID string) (*types.Claim, error) {
	var c types.Claim
	err := s.db.QueryRowContext(ctx,
		`SELECT slot_id, cid, amount_earned, tx_hash, claimed_at FROM claims WHERE slot_id = ?`, slotID,
	).Scan(&c.SlotID, &c.CID, &c.AmountEarned, &c.TxHash, &c.ClaimedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetEarnings aggregates claimed amounts since the given time (or all time
// if since is nil).
func (s *Store) GetEarnings(ctx context.Context, since *time.Time) (total int64, count int, err error) {
	q := `SELECT COALESCE(SUM(amount_earned), 0), COUNT(*) FROM claims`
	args := []interface{}{}
	if since != nil {
		q += ` WHERE claimed_at >= ?`
		args = append(args, *since)
	}
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&total, &count)
	return total, count, err
}

// --- pins --------------------------------------------------------------

// SavePin records that the local storage node now pins cid under our
// ownership.
func (s *Store) SavePin(ctx context.Context, cid, slotID string, bytesPinned int64) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pins (cid, slot_id, bytes_pinned, pinned_at) VALUES (?, ?, ?, ?)`,
		cid, slotID, bytesPinned, time.Now().UTC())
	return err
}

// IsCIDPinned reports whether a Pin row exists for cid.
func (s *Store) IsCIDPinned(ctx context.Context, cid string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pins WHERE cid = ?`, cid).Scan(&n)
	return n > 0, err
}

// --- activity ------------------------------------------------------------

// LogActivity appends an activity entry; never authoritative, never read
// back for decisions.
func (s *Store) LogActivity(ctx context.Context, e types.ActivityEntry) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, event_type, slot_id, cid, amount, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EventType, nullIfEmpty(e.SlotID), nullIfEmpty(e.CID), e.Amount, e.Message, e.CreatedAt)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetRecentActivity returns up to limit most-recent entries, newest first.
func (s *Store) GetRecentActivity(ctx context.Context, limit int) ([]types.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, COALESCE(slot_id,''), COALESCE(cid,''), amount, message, created_at
		 FROM activity_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.ActivityEntry
	for rows.Next() {
		var e types.ActivityEntry
		var amount sql.NullInt64
		if err := rows.Scan(&e.ID, &e.EventType, &e.SlotID, &e.CID, &amount, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		if amount.Valid {
			v := amount.Int64
			e.Amount = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
